package api

import (
	"encoding/json"
	"net/http"
)

type failureResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func writeJSON(w http.ResponseWriter, data any, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}

func writeFailure(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, failureResponse{Success: false, Error: msg}, code)
}

func writeRaw(w http.ResponseWriter, code int, contentType string, body []byte) {
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.WriteHeader(code)
	_, _ = w.Write(body)
}

// annotate merges fields into a JSON object payload. Payloads that are not
// objects are returned unchanged.
func annotate(payload []byte, fields map[string]any) []byte {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil || obj == nil {
		return payload
	}
	for k, v := range fields {
		raw, err := json.Marshal(v)
		if err != nil {
			return payload
		}
		obj[k] = raw
	}
	out, err := json.Marshal(obj)
	if err != nil {
		return payload
	}
	return out
}
