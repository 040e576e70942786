package northbound

import (
	"net/http"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/veesix-networks/osvnsh/pkg/controlplane"
)

type endpoint struct {
	method      string
	path        string
	tag         string
	summary     string
	operationID string
	request     reflect.Type
	status      int
	response    reflect.Type
}

var (
	specOnce sync.Once
	spec     *openapi3.T
)

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

var endpoints = []endpoint{
	{http.MethodGet, "/api/devices", "Devices", "List devices", "listDevices", nil, http.StatusOK, typeOf[[]controlplane.DeviceInfo]()},
	{http.MethodPost, "/api/devices", "Devices", "Create a device", "createDevice", typeOf[controlplane.DeviceRequest](), http.StatusCreated, typeOf[controlplane.DeviceInfo]()},
	{http.MethodGet, "/api/devices/{name}", "Devices", "Get a device", "getDevice", nil, http.StatusOK, typeOf[controlplane.DeviceInfo]()},
	{http.MethodDelete, "/api/devices/{name}", "Devices", "Destroy a device and the paths delivering to it", "destroyDevice", nil, http.StatusNoContent, nil},
	{http.MethodPut, "/api/devices/{name}/binding", "Devices", "Bind a device to a path key", "bindDevice", typeOf[BindingRequest](), http.StatusOK, typeOf[controlplane.DeviceInfo]()},
	{http.MethodDelete, "/api/devices/{name}/binding", "Devices", "Unbind a device", "unbindDevice", nil, http.StatusOK, typeOf[controlplane.DeviceInfo]()},
	{http.MethodGet, "/api/paths", "Paths", "List forwarding entries", "listPaths", nil, http.StatusOK, typeOf[[]controlplane.PathInfo]()},
	{http.MethodPost, "/api/paths", "Paths", "Add a forwarding entry", "addPath", typeOf[controlplane.PathRequest](), http.StatusCreated, typeOf[controlplane.PathInfo]()},
	{http.MethodGet, "/api/paths/{spi}/{si}", "Paths", "Get a forwarding entry", "getPath", nil, http.StatusOK, typeOf[controlplane.PathInfo]()},
	{http.MethodDelete, "/api/paths/{spi}/{si}", "Paths", "Delete a forwarding entry", "deletePath", nil, http.StatusNoContent, nil},
	{http.MethodGet, "/api/stats", "General", "Device counters, drop reasons and table size", "getStats", nil, http.StatusOK, typeOf[controlplane.Stats]()},
	{http.MethodGet, "/api/status", "General", "API server status", "getStatus", nil, http.StatusOK, typeOf[Status]()},
	{http.MethodGet, "/api/openapi.json", "General", "This document", "getOpenAPI", nil, http.StatusOK, nil},
}

// GenerateOpenAPISpec returns the OpenAPI document describing the API.
func (c *Component) GenerateOpenAPISpec() *openapi3.T {
	specOnce.Do(func() {
		spec = buildOpenAPISpec()
	})
	return spec
}

func buildOpenAPISpec() *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:       "osvNSH API",
			Description: "Control API for the osvNSH service function chaining dataplane",
			Version:     "1.0.0",
		},
		Paths: &openapi3.Paths{},
		Tags: openapi3.Tags{
			{Name: "General", Description: "General API endpoints"},
			{Name: "Devices", Description: "Local attachment devices"},
			{Name: "Paths", Description: "Forwarding table entries"},
		},
	}

	errSchema := schemaFromType(typeOf[ErrorResponse]())

	for _, ep := range endpoints {
		op := &openapi3.Operation{
			Tags:        []string{ep.tag},
			Summary:     ep.summary,
			OperationID: ep.operationID,
			Parameters:  pathParameters(ep.path),
		}

		ok := &openapi3.Response{Description: ptr(http.StatusText(ep.status))}
		if ep.response != nil {
			ok.Content = openapi3.NewContentWithJSONSchemaRef(schemaFromType(ep.response))
		}
		opts := []openapi3.NewResponsesOption{openapi3.WithStatus(ep.status, &openapi3.ResponseRef{Value: ok})}

		if ep.request != nil {
			op.RequestBody = &openapi3.RequestBodyRef{
				Value: &openapi3.RequestBody{
					Required: true,
					Content:  openapi3.NewContentWithJSONSchemaRef(schemaFromType(ep.request)),
				},
			}
		}
		if ep.request != nil || len(op.Parameters) > 0 {
			opts = append(opts, openapi3.WithStatus(http.StatusBadRequest, errorResponse("Invalid request", errSchema)))
		}
		if len(op.Parameters) > 0 {
			opts = append(opts, openapi3.WithStatus(http.StatusNotFound, errorResponse("Not found", errSchema)))
		}
		if ep.method == http.MethodPost {
			opts = append(opts, openapi3.WithStatus(http.StatusConflict, errorResponse("Already exists", errSchema)))
		}
		op.Responses = openapi3.NewResponses(opts...)

		item := doc.Paths.Value(ep.path)
		if item == nil {
			item = &openapi3.PathItem{}
			doc.Paths.Set(ep.path, item)
		}
		item.SetOperation(ep.method, op)
	}

	return doc
}

func errorResponse(desc string, schema *openapi3.SchemaRef) *openapi3.ResponseRef {
	return &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: ptr(desc),
			Content:     openapi3.NewContentWithJSONSchemaRef(schema),
		},
	}
}

func pathParameters(path string) openapi3.Parameters {
	var params openapi3.Parameters
	for _, part := range strings.Split(path, "/") {
		if !strings.HasPrefix(part, "{") || !strings.HasSuffix(part, "}") {
			continue
		}
		name := part[1 : len(part)-1]
		schema := &openapi3.Schema{Type: &openapi3.Types{"string"}}
		if name == "spi" || name == "si" {
			schema = &openapi3.Schema{Type: &openapi3.Types{"integer"}}
		}
		params = append(params, &openapi3.ParameterRef{
			Value: &openapi3.Parameter{
				Name:     name,
				In:       "path",
				Required: true,
				Schema:   &openapi3.SchemaRef{Value: schema},
			},
		})
	}
	return params
}

func schemaFromType(t reflect.Type) *openapi3.SchemaRef {
	if t == nil {
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"object"}}}
	}

	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	if t == reflect.TypeOf(time.Time{}) {
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Format: "date-time"}}
	}

	switch t.Kind() {
	case reflect.Bool:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"boolean"}}}

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}}}

	case reflect.String:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}}

	case reflect.Slice:
		return &openapi3.SchemaRef{
			Value: &openapi3.Schema{
				Type:  &openapi3.Types{"array"},
				Items: schemaFromType(t.Elem()),
			},
		}

	case reflect.Map:
		return &openapi3.SchemaRef{
			Value: &openapi3.Schema{
				Type:                 &openapi3.Types{"object"},
				AdditionalProperties: openapi3.AdditionalProperties{Schema: schemaFromType(t.Elem())},
			},
		}

	case reflect.Struct:
		return structToSchema(t)
	}

	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"object"}}}
}

func structToSchema(t reflect.Type) *openapi3.SchemaRef {
	properties := openapi3.Schemas{}
	var required []string

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		jsonTag := field.Tag.Get("json")
		if jsonTag == "-" {
			continue
		}

		name := field.Name
		omitempty := false
		if jsonTag != "" {
			parts := strings.Split(jsonTag, ",")
			if parts[0] != "" {
				name = parts[0]
			}
			for _, opt := range parts[1:] {
				if opt == "omitempty" {
					omitempty = true
				}
			}
		}

		properties[name] = schemaFromType(field.Type)
		if !omitempty && field.Type.Kind() != reflect.Ptr {
			required = append(required, name)
		}
	}

	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type:       &openapi3.Types{"object"},
			Properties: properties,
			Required:   required,
		},
	}
}

func ptr(s string) *string {
	return &s
}
