package shared

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

// DecodeError is returned by DecodeRequest. ID holds whatever id could be
// recovered from the input so the error response can still be correlated.
type DecodeError struct {
	ID  ID
	Err *JSONRPCError
}

func (e *DecodeError) Error() string {
	return e.Err.Error()
}

type wireRequest struct {
	JSONRPC json.RawMessage `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  json.RawMessage `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// DecodeRequest decodes one self-contained request object.
func DecodeRequest(data []byte) (*JSONRPCRequest, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || !json.Valid(data) {
		return nil, &DecodeError{Err: NewError(ParseError, "", nil)}
	}
	switch data[0] {
	case '{':
	case '[':
		return nil, &DecodeError{Err: NewError(InvalidRequest, "batch requests are not supported", nil)}
	default:
		return nil, &DecodeError{Err: NewError(InvalidRequest, "request must be a JSON object", nil)}
	}

	var w wireRequest
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, &DecodeError{Err: NewError(ParseError, "", nil)}
	}

	id := ID(nil)
	if w.ID != nil {
		id = ID(w.ID)
	}
	if !id.valid() {
		return nil, &DecodeError{Err: NewError(InvalidRequest, "id must be a string or a number", nil)}
	}

	var version string
	if w.JSONRPC == nil || json.Unmarshal(w.JSONRPC, &version) != nil || version != JSONRPCVersion {
		return nil, &DecodeError{ID: id, Err: NewError(ParseError, fmt.Sprintf("jsonrpc must be %q", JSONRPCVersion), nil)}
	}

	var method string
	if w.Method == nil || json.Unmarshal(w.Method, &method) != nil || method == "" {
		return nil, &DecodeError{ID: id, Err: NewError(InvalidRequest, "method must be a non-empty string", nil)}
	}

	params := []byte(w.Params)
	if bytes.Equal(params, []byte("null")) {
		params = nil
	}
	if len(params) > 0 && params[0] != '{' && params[0] != '[' {
		return nil, &DecodeError{ID: id, Err: NewError(InvalidRequest, "params must be an object or an array", nil)}
	}

	return &JSONRPCRequest{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Method:  method,
		Params:  params,
	}, nil
}

// EncodeResponse encodes a response without a trailing newline. The id is
// written verbatim.
func EncodeResponse(resp *JSONRPCResponse) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"jsonrpc":"2.0","id":`)
	if resp.ID.IsAbsent() {
		buf.WriteString("null")
	} else {
		buf.Write(resp.ID)
	}

	var (
		body []byte
		err  error
	)
	if resp.Error != nil {
		buf.WriteString(`,"error":`)
		body, err = marshalNoEscape(resp.Error)
	} else {
		buf.WriteString(`,"result":`)
		body, err = marshalNoEscape(resp.Result)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "encode response %s", resp.ID)
	}
	buf.Write(body)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// EncodeRequest encodes a request, used by clients and tests.
func EncodeRequest(req *JSONRPCRequest) ([]byte, error) {
	out := struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      ID              `json:"id,omitempty"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params,omitempty"`
	}{JSONRPCVersion, req.ID, req.Method, req.Params}
	return marshalNoEscape(out)
}

func marshalNoEscape(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
