package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "OpenLingua School API",
        "description": "Language school administration: enrollment, attendance and rosters",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Authentication", "description": "Login and token lifecycle"},
        {"name": "Classes", "description": "Class catalog"},
        {"name": "Enrollments", "description": "Student and teacher assignment"},
        {"name": "Attendance", "description": "Session marks and exports"},
        {"name": "Roster", "description": "Class membership views"},
        {"name": "Students", "description": "Student directory"},
        {"name": "Teachers", "description": "Teacher directory"}
    ],
    "paths": {
        "/auth/login": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Authenticate user",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid credentials"}
                }
            }
        },
        "/classes": {
            "get": {
                "tags": ["Classes"],
                "summary": "List classes",
                "parameters": [
                    {"name": "language", "in": "query", "type": "string"},
                    {"name": "level", "in": "query", "type": "string"},
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "pageSize", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Classes"],
                "summary": "Create class",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateClassRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/classes/{id}/students": {
            "post": {
                "tags": ["Enrollments"],
                "summary": "Assign students to class",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/AssignStudentsRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Capacity exceeded or invalid batch"}
                }
            }
        },
        "/classes/{id}/attendance": {
            "post": {
                "tags": ["Attendance"],
                "summary": "Record attendance session",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SaveAttendanceRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Student not enrolled or invalid status"}
                }
            }
        },
        "/classes/{id}/roster": {
            "get": {
                "tags": ["Roster"],
                "summary": "Get class roster",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "LoginRequest": {
            "type": "object",
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"}
            },
            "required": ["email", "password"]
        },
        "CreateClassRequest": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "language": {"type": "string"},
                "level": {"type": "string"},
                "schedule": {"type": "string"},
                "max_students": {"type": "integer"},
                "teacher_id": {"type": "string"}
            },
            "required": ["name", "language", "level", "schedule", "max_students"]
        },
        "AssignStudentsRequest": {
            "type": "object",
            "properties": {
                "student_ids": {"type": "array", "items": {"type": "string"}}
            },
            "required": ["student_ids"]
        },
        "SaveAttendanceRequest": {
            "type": "object",
            "properties": {
                "records": {
                    "type": "array",
                    "items": {"$ref": "#/definitions/AttendanceRecordInput"}
                }
            },
            "required": ["records"]
        },
        "AttendanceRecordInput": {
            "type": "object",
            "properties": {
                "student_id": {"type": "string"},
                "class_id": {"type": "string"},
                "session_date": {"type": "string"},
                "status": {"type": "string", "enum": ["PRESENT", "ABSENT", "LATE"]}
            },
            "required": ["student_id", "class_id", "session_date", "status"]
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
