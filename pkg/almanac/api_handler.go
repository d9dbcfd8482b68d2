package almanac

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/morezero/agent-router/pkg/agenterr"
)

const apiHandlerLogPrefix = "almanac:api_handler"

// APIPrefix is the path the REST API is mounted under.
const APIPrefix = "/v1/almanac/"

// RegisterRoutes mounts the almanac REST API on router:
//
//	GET  /v1/almanac/agents/:address
//	POST /v1/almanac/agents
//	GET  /v1/almanac/names/:name
//	POST /v1/almanac/names
func RegisterRoutes(router *httprouter.Router, svc *Service) {
	router.GET(APIPrefix+"agents/:address", func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		rec, err := svc.QueryRecord(r.Context(), ps.ByName("address"))
		if err != nil {
			writeError(w, err)
			return
		}
		if rec == nil {
			writeJSON(w, http.StatusNotFound, &ErrorDetail{Code: "NOT_FOUND", Message: "no live record"})
			return
		}
		writeJSON(w, http.StatusOK, rec)
	})

	router.POST(APIPrefix+"agents", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var req RegisterRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, &ErrorDetail{Code: "INVALID_ARGUMENT", Message: "Failed to parse register body"})
			return
		}
		result, err := svc.Register(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	})

	router.GET(APIPrefix+"names/:name", func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		addr, err := svc.LookupName(r.Context(), ps.ByName("name"))
		if err != nil {
			writeError(w, err)
			return
		}
		if addr == "" {
			writeJSON(w, http.StatusNotFound, &ErrorDetail{Code: "NOT_FOUND", Message: "name is not bound"})
			return
		}
		writeJSON(w, http.StatusOK, &LookupNameOutput{Address: addr})
	})

	router.POST(APIPrefix+"names", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var req RegisterNameRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, &ErrorDetail{Code: "INVALID_ARGUMENT", Message: "Failed to parse name body"})
			return
		}
		if err := svc.RegisterName(r.Context(), req); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"bound": true})
	})
}

func writeError(w http.ResponseWriter, err error) {
	var ae *agenterr.Error
	if errors.As(err, &ae) && ae.Err == nil {
		writeJSON(w, http.StatusUnprocessableEntity, &ErrorDetail{Code: string(ae.Code), Message: ae.Message, Details: ae.Details})
		return
	}
	slog.Error(fmt.Sprintf("%s - %v", apiHandlerLogPrefix, err))
	writeJSON(w, http.StatusInternalServerError, &ErrorDetail{Code: "INTERNAL_ERROR", Message: err.Error(), Retryable: true})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn(fmt.Sprintf("%s - write response failed: %v", apiHandlerLogPrefix, err))
	}
}
