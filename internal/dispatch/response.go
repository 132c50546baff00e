package dispatch

import (
	"encoding/json"
	"net/http"
)

// Response is the value handlers and middleware produce. The server
// writes it out after CORS decoration; middleware may return it
// directly, pass it through unchanged, or wrap the downstream result.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Params holds named path parameter values extracted by the route
// table. Values are the raw path segments; no percent-decoding is
// applied before they reach the handler.
type Params map[string]string

// Handler processes a matched request. Returning a non-nil error
// surfaces at the server's recovery boundary as a generic 500.
type Handler func(r *http.Request, params Params) (*Response, error)

// Next is the continuation representing the remainder of the pipeline,
// terminating in route dispatch. Each middleware entry may call it at
// most once.
type Next func() (*Response, error)

// Middleware intercepts a request. It may short-circuit by returning
// without calling next, or call next and return (or transform) its
// result.
type Middleware func(r *http.Request, next Next) (*Response, error)

// NewResponse returns an empty response with the given status and an
// initialized header map.
func NewResponse(status int) *Response {
	return &Response{Status: status, Header: make(http.Header)}
}

// JSON builds a JSON response. Marshal failures degrade to a generic
// 500 rather than panicking inside a handler.
func JSON(status int, v any) *Response {
	body, err := json.Marshal(v)
	if err != nil {
		return internalErrorResponse()
	}
	resp := NewResponse(status)
	resp.Header.Set("Content-Type", "application/json")
	resp.Body = body
	return resp
}

// Text builds a plain-text response.
func Text(status int, body string) *Response {
	resp := NewResponse(status)
	resp.Header.Set("Content-Type", "text/plain; charset=utf-8")
	resp.Body = []byte(body)
	return resp
}

// NoContent builds an empty 204 response.
func NoContent() *Response {
	return NewResponse(http.StatusNoContent)
}

// errorBody is the wire shape of the fixed error responses.
type errorBody struct {
	Error string `json:"error"`
}

// ErrorJSON builds the canonical {"error": ...} response used for the
// 404 and 500 boundaries.
func ErrorJSON(status int, message string) *Response {
	return JSON(status, errorBody{Error: message})
}

func notFoundResponse() *Response {
	return ErrorJSON(http.StatusNotFound, "Not Found")
}

func internalErrorResponse() *Response {
	resp := NewResponse(http.StatusInternalServerError)
	resp.Header.Set("Content-Type", "application/json")
	resp.Body = []byte(`{"error":"Internal Server Error"}`)
	return resp
}

// write flushes the response to the underlying writer.
func (resp *Response) write(w http.ResponseWriter) {
	for key, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(resp.Body) > 0 {
		w.Write(resp.Body)
	}
}
