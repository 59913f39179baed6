package httpapi

import (
	"io"
	"mime"
	"net/http"

	"google.golang.org/protobuf/proto"
)

// maxRequestBody caps every request body. Count and location requests are
// a short name and a small integer.
const maxRequestBody = 4096

const protoMediaType = "application/x-protobuf"

// Kiosk firmware sends one of these media types, sometimes with a
// "proto=google.protobuf.Struct" parameter. Anything else is read as JSON.
var protoMediaTypes = map[string]bool{
	protoMediaType:                    true,
	"application/protobuf":            true,
	"application/vnd.google.protobuf": true,
}

func isProtobuf(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && protoMediaTypes[mt]
}

func readProto(r *http.Request, msg proto.Message) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return err
	}
	return proto.Unmarshal(body, msg)
}

// writeProto answers in protobuf. A marshal failure falls back to the JSON
// error body every other client understands.
func writeProto(w http.ResponseWriter, status int, msg proto.Message) {
	data, err := proto.Marshal(msg)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "could not encode protobuf response")
		return
	}
	w.Header().Set("Content-Type", protoMediaType)
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
