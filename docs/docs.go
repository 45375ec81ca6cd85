// Package docs registers the Swagger spec served at /swagger.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/healthz": {
            "get": {
                "produces": ["application/json"],
                "tags": ["System"],
                "summary": "Health check",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/api/v1/webhooks/stripe": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Webhook"],
                "summary": "Payment provider webhook",
                "responses": {
                    "200": {"description": "OK"},
                    "400": {"description": "Bad Request"},
                    "500": {"description": "Internal Server Error"}
                }
            }
        },
        "/api/v1/checkout_session": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Checkout"],
                "summary": "Create Checkout Session",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/api/v1/admin/list_billing_records": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Admin"],
                "summary": "List Billing Records (Admin)",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/api/v1/admin/grant_lifetime_access": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Admin"],
                "summary": "Grant Lifetime Access (Admin)",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/api/v1/admin/webhook_diagnostics": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Admin"],
                "summary": "Webhook diagnostics (Admin)",
                "responses": {"200": {"description": "OK"}}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8888",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Entitlements Backend API",
	Description:      "Payment event reconciliation backend with entitlement provisioning.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
