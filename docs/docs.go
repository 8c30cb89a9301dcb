// Package docs holds the OpenAPI description served under /swagger.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "license": {
            "name": "MIT",
            "url": "https://opensource.org/licenses/MIT"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/dut": {
            "get": {
                "produces": ["application/json"],
                "tags": ["DUT"],
                "summary": "Link status, CLI state, configuration and counters",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            }
        },
        "/dut/connect": {
            "post": {
                "produces": ["application/json"],
                "tags": ["DUT"],
                "summary": "Open the DUT link",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/utils.APIResponse"}},
                    "409": {"description": "Connect in progress", "schema": {"$ref": "#/definitions/utils.APIResponse"}},
                    "502": {"description": "DUT unreachable", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            }
        },
        "/dut/disconnect": {
            "post": {
                "produces": ["application/json"],
                "tags": ["DUT"],
                "summary": "Close the DUT link and CLI session",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            }
        },
        "/dut/packets": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["DUT"],
                "summary": "Send one framed packet and optionally wait for the reply",
                "parameters": [
                    {"description": "Packet", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handler.SendPacketRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/utils.APIResponse"}},
                    "400": {"description": "Bad request", "schema": {"$ref": "#/definitions/utils.APIResponse"}},
                    "502": {"description": "DUT error", "schema": {"$ref": "#/definitions/utils.APIResponse"}},
                    "503": {"description": "Not connected", "schema": {"$ref": "#/definitions/utils.APIResponse"}},
                    "504": {"description": "DUT timeout", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            }
        },
        "/dut/cli": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["CLI"],
                "summary": "Run commands on the DUT console",
                "parameters": [
                    {"description": "Commands", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handler.ExecuteCommandsRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/utils.APIResponse"}},
                    "503": {"description": "CLI not ready", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            }
        },
        "/dut/cli/parse": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["CLI"],
                "summary": "Extract regex matches from command output",
                "parameters": [
                    {"description": "Output and pattern", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handler.ParseOutputRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/utils.APIResponse"}},
                    "400": {"description": "Bad pattern", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            }
        },
        "/dut/latency": {
            "get": {
                "produces": ["application/json"],
                "tags": ["DUT"],
                "summary": "Round trip latency statistics",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            },
            "delete": {
                "produces": ["application/json"],
                "tags": ["DUT"],
                "summary": "Reset latency statistics",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            }
        },
        "/dut/operations": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Operations"],
                "summary": "Recent operations, newest first",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            }
        },
        "/dut/operations/latency": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Operations"],
                "summary": "Start a latency run",
                "parameters": [
                    {"description": "Run", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handler.LatencyProbeRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            }
        },
        "/dut/operations/burst": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Operations"],
                "summary": "Start a burst send",
                "parameters": [
                    {"description": "Burst", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handler.BurstRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            }
        },
        "/dut/operations/stress": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Operations"],
                "summary": "Start a stress run",
                "parameters": [
                    {"description": "Stress", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handler.StressRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            }
        },
        "/dut/operations/{operation_id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Operations"],
                "summary": "One operation",
                "parameters": [
                    {"type": "string", "description": "Operation ID", "name": "operation_id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/utils.APIResponse"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            }
        },
        "/dut/operations/{operation_id}/cancel": {
            "put": {
                "produces": ["application/json"],
                "tags": ["Operations"],
                "summary": "Cancel a running operation",
                "parameters": [
                    {"type": "string", "description": "Operation ID", "name": "operation_id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/utils.APIResponse"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            }
        },
        "/interfaces": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Discovery"],
                "summary": "Host network interfaces",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            }
        },
        "/interfaces/{name}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Discovery"],
                "summary": "One network interface",
                "parameters": [
                    {"type": "string", "description": "Interface name", "name": "name", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/utils.APIResponse"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            }
        },
        "/discovery/scan": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Discovery"],
                "summary": "Scan for DUT endpoints",
                "parameters": [
                    {"type": "string", "description": "all, nic, serial or tcp", "name": "type", "in": "query"},
                    {"type": "string", "description": "Scan timeout, e.g. 10s", "name": "timeout", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/utils.APIResponse"}},
                    "400": {"description": "Bad request", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            }
        },
        "/discovery/scanners": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Discovery"],
                "summary": "Available scanners",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            }
        },
        "/discovery/probe": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Discovery"],
                "summary": "Check which TCP ports of a host accept connections",
                "parameters": [
                    {"description": "Host and ports", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handler.ProbeRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            }
        }
    },
    "definitions": {
        "handler.SendPacketRequest": {
            "type": "object",
            "required": ["command"],
            "properties": {
                "command": {"type": "integer", "maximum": 255, "minimum": 0},
                "payload_hex": {"type": "string"},
                "checksum": {"type": "boolean"},
                "crc32": {"type": "boolean"},
                "expect_reply": {"type": "boolean"}
            }
        },
        "handler.ExecuteCommandsRequest": {
            "type": "object",
            "required": ["commands"],
            "properties": {
                "commands": {"type": "array", "items": {"type": "string"}},
                "timeout_ms": {"type": "integer", "minimum": 0}
            }
        },
        "handler.ParseOutputRequest": {
            "type": "object",
            "required": ["pattern"],
            "properties": {
                "output": {"type": "string"},
                "pattern": {"type": "string"}
            }
        },
        "handler.LatencyProbeRequest": {
            "type": "object",
            "required": ["count"],
            "properties": {
                "command": {"type": "integer", "maximum": 255, "minimum": 0},
                "payload_hex": {"type": "string"},
                "count": {"type": "integer"},
                "interval_ms": {"type": "integer", "minimum": 0}
            }
        },
        "handler.BurstRequest": {
            "type": "object",
            "required": ["command", "count"],
            "properties": {
                "command": {"type": "integer", "maximum": 255, "minimum": 0},
                "payload_hex": {"type": "string"},
                "count": {"type": "integer"},
                "checksum": {"type": "boolean"}
            }
        },
        "handler.StressRequest": {
            "type": "object",
            "required": ["duration_ms", "packet_size"],
            "properties": {
                "duration_ms": {"type": "integer"},
                "packet_size": {"type": "integer"}
            }
        },
        "handler.ProbeRequest": {
            "type": "object",
            "required": ["host", "ports"],
            "properties": {
                "host": {"type": "string"},
                "ports": {"type": "array", "items": {"type": "integer"}},
                "timeout_ms": {"type": "integer", "minimum": 0}
            }
        },
        "utils.APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "kind": {"type": "string"},
                "message": {"type": "string"},
                "details": {"type": "string"}
            }
        },
        "utils.APIResponse": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean"},
                "message": {"type": "string"},
                "data": {},
                "error": {"$ref": "#/definitions/utils.APIError"},
                "timestamp": {"type": "string"},
                "request_id": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "DUT Service API",
	Description:      "Packet, console and discovery access to a device under test",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
