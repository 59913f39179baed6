package httpapi

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/Soferklesia/internal/soferklesia/service"
	"github.com/BrandonDHaskell/Soferklesia/internal/soferklesia/types"
)

var errBadField = errors.New("bad field")

// Protobuf bodies are google.protobuf.Struct messages carrying the same keys
// as the JSON API, so kiosks need no generated code of their own.

func readCountRequestProto(r *http.Request) (types.CountRequest, error) {
	var msg structpb.Struct
	if err := readProto(r, &msg); err != nil {
		return types.CountRequest{}, fmt.Errorf("invalid protobuf body: %w", err)
	}
	return countRequestFromProto(&msg)
}

func countRequestFromProto(p *structpb.Struct) (types.CountRequest, error) {
	var req types.CountRequest
	for k, v := range p.GetFields() {
		switch k {
		case "operator":
			sv, ok := v.GetKind().(*structpb.Value_StringValue)
			if !ok {
				return req, fmt.Errorf("%w: operator must be a string", errBadField)
			}
			req.Operator = sv.StringValue
		case "delta":
			nv, ok := v.GetKind().(*structpb.Value_NumberValue)
			if !ok || nv.NumberValue != math.Trunc(nv.NumberValue) {
				return req, fmt.Errorf("%w: delta must be an integer", errBadField)
			}
			if math.Abs(nv.NumberValue) > service.MaxDelta {
				return req, service.ErrInvalidDelta
			}
			req.Delta = int(nv.NumberValue)
		default:
			return req, fmt.Errorf("%w: unknown field %q", errBadField, k)
		}
	}
	return req, nil
}

func countsResponseToProto(r types.CountsResponse) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"ok":          structpb.NewBoolValue(r.OK),
		"period":      structpb.NewStringValue(r.Period),
		"male":        structpb.NewNumberValue(float64(r.Male)),
		"female":      structpb.NewNumberValue(float64(r.Female)),
		"total":       structpb.NewNumberValue(float64(r.Total)),
		"location":    structpb.NewStringValue(r.Location),
		"server_time": structpb.NewStringValue(r.ServerTime),
	}}
}

// respond answers in the encoding the client used for its request or asked
// for in Accept.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, status int, resp types.CountsResponse) {
	if isProtobuf(r) || strings.Contains(r.Header.Get("Accept"), protoMediaType) {
		writeProto(w, status, countsResponseToProto(resp))
		return
	}
	writeJSON(w, status, resp)
}
