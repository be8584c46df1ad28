// Package docs описание HTTP API для swagger UI
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
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "paths": {
        "/runs": {
            "post": {
                "security": [{"BearerAuth": []}],
                "summary": "Поставить прогон синхронизации в очередь",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [{
                    "name": "choice",
                    "in": "body",
                    "required": true,
                    "schema": {"$ref": "#/definitions/Choice"}
                }],
                "responses": {
                    "202": {"description": "Прогон принят"},
                    "400": {"description": "Некорректная запись выбора"},
                    "401": {"description": "Нет токена"},
                    "403": {"description": "Нет права sync:run"},
                    "503": {"description": "Очередь команд недоступна"}
                }
            }
        },
        "/runs/last": {
            "get": {
                "security": [{"BearerAuth": []}],
                "summary": "Итоги последнего прогона",
                "produces": ["application/json"],
                "responses": {
                    "200": {"description": "Снимок отчета"},
                    "404": {"description": "Прогонов еще не было"}
                }
            }
        }
    },
    "definitions": {
        "Choice": {
            "type": "object",
            "properties": {
                "operation": {"type": "string", "enum": ["update", "create", "delete"]},
                "source": {"type": "string"},
                "target": {"type": "string"},
                "options": {"type": "string", "enum": ["qty", "full", "price", "info", "none", "copy"]},
                "use_local_data": {"type": "boolean"},
                "stock_codes": {"type": "array", "items": {"type": "string"}},
                "fields": {"type": "array", "items": {"type": "string"}},
                "quantity": {"type": "integer"},
                "sale_price": {"type": "string"},
                "list_price": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo метаданные документа, доступные для изменения при старте
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Catalog Sync API",
	Description:      "Запуск синхронизации каталогов маркетплейсов и чтение итогов.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
