// Package docs holds the OpenAPI template served at /openapi.json. It follows
// the layout swag init emits and is maintained by hand alongside the godoc
// annotations in internal/handler; running swag init from the repository
// root replaces it.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/": {
            "get": {
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Service banner",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/model.RootResponse"}}
                }
            }
        },
        "/api/chat": {
            "post": {
                "security": [{"SessionCookie": []}],
                "description": "Streams the model response as server-sent events: \"delta\" events carry text, then one \"done\" or \"error\" event.",
                "consumes": ["application/json"],
                "produces": ["text/event-stream"],
                "tags": ["chat"],
                "summary": "Stream a chat completion",
                "parameters": [
                    {"description": "Conversation so far", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/model.ChatRequest"}}
                ],
                "responses": {
                    "200": {"description": "event stream", "schema": {"type": "string"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/model.ErrorResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/model.ErrorResponse"}},
                    "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/model.ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/model.ErrorResponse"}}
                }
            }
        },
        "/api/v1/auth/link": {
            "post": {
                "description": "Creates an anonymous identity, stores a signed state cookie and returns the provider redirect URL.",
                "produces": ["application/json"],
                "tags": ["auth"],
                "summary": "Start account linking",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/model.LinkResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/model.ErrorResponse"}}
                }
            }
        },
        "/api/v1/auth/logout": {
            "post": {
                "description": "Clears the session cookie.",
                "produces": ["application/json"],
                "tags": ["auth"],
                "summary": "Logout",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/model.AuthLogoutResponse"}}
                }
            }
        },
        "/api/v1/auth/me": {
            "get": {
                "security": [{"SessionCookie": []}],
                "produces": ["application/json"],
                "tags": ["auth"],
                "summary": "Get current user",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/model.AuthMeResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/model.ErrorResponse"}}
                }
            }
        },
        "/api/v1/auth/verify": {
            "post": {
                "description": "Verifies the state cookie, confirms the provider connection and sets the session cookie. The state cookie is cleared on every outcome.",
                "produces": ["application/json"],
                "tags": ["auth"],
                "summary": "Complete account linking",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/model.VerifyResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/model.ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/model.ErrorResponse"}}
                }
            }
        },
        "/api/v1/chats": {
            "get": {
                "security": [{"SessionCookie": []}],
                "description": "Returns the caller's chats, most recently updated first.",
                "produces": ["application/json"],
                "tags": ["chats"],
                "summary": "List chats",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/model.ChatListResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/model.ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/model.ErrorResponse"}}
                }
            },
            "post": {
                "security": [{"SessionCookie": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["chats"],
                "summary": "Create a chat",
                "parameters": [
                    {"description": "Title and model", "name": "request", "in": "body", "schema": {"$ref": "#/definitions/model.CreateChatRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/model.ChatEnvelope"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/model.ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/model.ErrorResponse"}}
                }
            }
        },
        "/api/v1/chats/{id}": {
            "get": {
                "security": [{"SessionCookie": []}],
                "produces": ["application/json"],
                "tags": ["chats"],
                "summary": "Get a chat with its messages",
                "parameters": [
                    {"type": "string", "description": "Chat ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/model.ChatDetailEnvelope"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/model.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/model.ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/model.ErrorResponse"}}
                }
            },
            "put": {
                "security": [{"SessionCookie": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["chats"],
                "summary": "Update chat title or model",
                "parameters": [
                    {"type": "string", "description": "Chat ID", "name": "id", "in": "path", "required": true},
                    {"description": "Fields to change", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/model.UpdateChatRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/model.ChatEnvelope"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/model.ErrorResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/model.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/model.ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/model.ErrorResponse"}}
                }
            },
            "delete": {
                "security": [{"SessionCookie": []}],
                "produces": ["application/json"],
                "tags": ["chats"],
                "summary": "Delete a chat",
                "parameters": [
                    {"type": "string", "description": "Chat ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/model.SuccessResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/model.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/model.ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/model.ErrorResponse"}}
                }
            }
        },
        "/api/v1/chats/{id}/messages": {
            "post": {
                "security": [{"SessionCookie": []}],
                "description": "Replaces the stored transcript. A chat still titled \"New Chat\" is renamed after the first user message.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["chats"],
                "summary": "Replace chat messages",
                "parameters": [
                    {"type": "string", "description": "Chat ID", "name": "id", "in": "path", "required": true},
                    {"description": "Full transcript", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/model.SaveMessagesRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/model.SaveMessagesResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/model.ErrorResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/model.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/model.ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/model.ErrorResponse"}}
                }
            }
        },
        "/api/v1/models": {
            "get": {
                "produces": ["application/json"],
                "tags": ["chat"],
                "summary": "List selectable chat models",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/model.ModelListResponse"}}
                }
            }
        },
        "/healthz": {
            "get": {
                "description": "Pings the database.",
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Readiness probe",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/model.StatusResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/model.StatusResponse"}}
                }
            }
        },
        "/ping": {
            "get": {
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Liveness probe",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/model.PingResponse"}}
                }
            }
        }
    },
    "definitions": {
        "model.AuthLogoutResponse": {
            "type": "object",
            "properties": {"status": {"type": "string"}}
        },
        "model.AuthMeResponse": {
            "type": "object",
            "properties": {"userId": {"type": "string"}}
        },
        "model.Chat": {
            "type": "object",
            "properties": {
                "createdAt": {"type": "string"},
                "id": {"type": "string"},
                "model": {"type": "string"},
                "title": {"type": "string"},
                "updatedAt": {"type": "string"},
                "userId": {"type": "string"}
            }
        },
        "model.ChatDetailEnvelope": {
            "type": "object",
            "properties": {"chat": {"$ref": "#/definitions/model.ChatWithMessages"}}
        },
        "model.ChatEnvelope": {
            "type": "object",
            "properties": {"chat": {"$ref": "#/definitions/model.Chat"}}
        },
        "model.ChatListResponse": {
            "type": "object",
            "properties": {"chats": {"type": "array", "items": {"$ref": "#/definitions/model.Chat"}}}
        },
        "model.ChatRequest": {
            "type": "object",
            "properties": {
                "messages": {"type": "array", "items": {"$ref": "#/definitions/model.UIMessage"}},
                "model": {"type": "string"}
            }
        },
        "model.ChatWithMessages": {
            "type": "object",
            "properties": {
                "createdAt": {"type": "string"},
                "id": {"type": "string"},
                "messages": {"type": "array", "items": {"$ref": "#/definitions/model.UIMessage"}},
                "model": {"type": "string"},
                "title": {"type": "string"},
                "updatedAt": {"type": "string"},
                "userId": {"type": "string"}
            }
        },
        "model.CreateChatRequest": {
            "type": "object",
            "properties": {"model": {"type": "string"}, "title": {"type": "string"}}
        },
        "model.ErrorResponse": {
            "type": "object",
            "properties": {"error": {"type": "string"}}
        },
        "model.LinkResponse": {
            "type": "object",
            "properties": {"connectionId": {"type": "string"}, "redirectUrl": {"type": "string"}}
        },
        "model.MessagePart": {
            "type": "object",
            "additionalProperties": true
        },
        "model.ModelInfo": {
            "type": "object",
            "properties": {"id": {"type": "string"}, "name": {"type": "string"}, "provider": {"type": "string"}}
        },
        "model.ModelListResponse": {
            "type": "object",
            "properties": {
                "default": {"type": "string"},
                "models": {"type": "array", "items": {"$ref": "#/definitions/model.ModelInfo"}}
            }
        },
        "model.PingResponse": {
            "type": "object",
            "properties": {"message": {"type": "string"}}
        },
        "model.RootResponse": {
            "type": "object",
            "properties": {"message": {"type": "string"}, "status": {"type": "string"}}
        },
        "model.SaveMessagesRequest": {
            "type": "object",
            "properties": {"messages": {"type": "array", "items": {"$ref": "#/definitions/model.UIMessage"}}}
        },
        "model.SaveMessagesResponse": {
            "type": "object",
            "properties": {
                "messageCount": {"type": "integer"},
                "success": {"type": "boolean"},
                "title": {"type": "string"}
            }
        },
        "model.StatusResponse": {
            "type": "object",
            "properties": {"status": {"type": "string"}}
        },
        "model.SuccessResponse": {
            "type": "object",
            "properties": {"success": {"type": "boolean"}}
        },
        "model.UIMessage": {
            "type": "object",
            "properties": {
                "content": {"type": "string"},
                "createdAt": {"type": "string"},
                "id": {"type": "string"},
                "parts": {"type": "array", "items": {"$ref": "#/definitions/model.MessagePart"}},
                "role": {"type": "string"}
            }
        },
        "model.UpdateChatRequest": {
            "type": "object",
            "properties": {"model": {"type": "string"}, "title": {"type": "string"}}
        },
        "model.VerifyResponse": {
            "type": "object",
            "properties": {"userId": {"type": "string"}}
        }
    },
    "securityDefinitions": {
        "SessionCookie": {
            "type": "apiKey",
            "name": "open_gamma_session",
            "in": "cookie"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "open-gamma API",
	Description:      "Presentation agent backend: account linking, chat streaming and chat history.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
