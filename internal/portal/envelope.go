// Package portal decodes the response envelope shared by the public data
// portal APIs (meteorological and tourism):
//
//	{"response": {"header": {"resultCode": "..", "resultMsg": ".."},
//	              "body": {"items": {"item": [...]}, "totalCount": N}}}
//
// "item" may be an array, a single object, or the items node may be an empty
// string when nothing matched. Authentication failures come back as XML.
package portal

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"

	"github.com/i474232898/weather-course/internal/common"
)

var (
	// ErrMalformed is returned when the body is neither the JSON envelope nor the XML error form.
	ErrMalformed = errors.New("malformed upstream payload")
)

// Result codes reported for invalid or unregistered service keys.
var authResultCodes = map[string]bool{
	"20": true, // SERVICE_ACCESS_DENIED_ERROR
	"30": true, // SERVICE_KEY_IS_NOT_REGISTERED_ERROR
	"31": true, // DEADLINE_HAS_EXPIRED_ERROR
	"32": true, // UNREGISTERED_IP_ERROR
}

// Envelope is the decoded, shape-normalized response.
type Envelope struct {
	ResultCode string
	ResultMsg  string
	TotalCount int
	Items      []common.Fields
}

// AuthFailure reports whether the result code indicates a key problem.
func (e Envelope) AuthFailure() bool {
	return authResultCodes[e.ResultCode]
}

type xmlError struct {
	XMLName xml.Name `xml:"OpenAPI_ServiceResponse"`
	Header  struct {
		ErrMsg     string `xml:"errMsg"`
		AuthMsg    string `xml:"returnAuthMsg"`
		ReasonCode string `xml:"returnReasonCode"`
	} `xml:"cmmMsgHeader"`
}

// Parse decodes body into an Envelope.
func Parse(body []byte) (Envelope, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return Envelope{}, fmt.Errorf("%w: empty body", ErrMalformed)
	}

	if trimmed[0] == '<' {
		var xe xmlError
		if err := xml.Unmarshal(trimmed, &xe); err != nil {
			return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		msg := xe.Header.AuthMsg
		if msg == "" {
			msg = xe.Header.ErrMsg
		}
		return Envelope{ResultCode: strings.TrimSpace(xe.Header.ReasonCode), ResultMsg: msg}, nil
	}

	var raw struct {
		Response struct {
			Header struct {
				ResultCode string `json:"resultCode"`
				ResultMsg  string `json:"resultMsg"`
			} `json:"header"`
			Body struct {
				Items      json.RawMessage `json:"items"`
				TotalCount json.Number     `json:"totalCount"`
			} `json:"body"`
		} `json:"response"`
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	env := Envelope{
		ResultCode: raw.Response.Header.ResultCode,
		ResultMsg:  raw.Response.Header.ResultMsg,
	}
	if n, err := raw.Response.Body.TotalCount.Int64(); err == nil {
		env.TotalCount = int(n)
	}

	items, err := decodeItems(raw.Response.Body.Items)
	if err != nil {
		return env, err
	}
	env.Items = items
	return env, nil
}

func decodeItems(data json.RawMessage) ([]common.Fields, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		// null, "" or missing: nothing matched.
		return nil, nil
	}

	var wrapper struct {
		Item json.RawMessage `json:"item"`
	}
	if err := decodeNumber(data, &wrapper); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	item := bytes.TrimSpace(wrapper.Item)
	if len(item) == 0 {
		return nil, nil
	}

	switch item[0] {
	case '[':
		var list []common.Fields
		if err := decodeNumber(item, &list); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return list, nil
	case '{':
		var single common.Fields
		if err := decodeNumber(item, &single); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return []common.Fields{single}, nil
	default:
		return nil, nil
	}
}

func decodeNumber(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}
