package http

import (
	"net/http"
	"strconv"

	"classbook/pkg/config"
	apperrors "classbook/pkg/errors"
)

// UserIDHeader identifies the caller. Credential issuance and verification
// happen upstream of this service; the gateway injects the header.
const UserIDHeader = "X-User-ID"

func UserID(r *http.Request) (string, error) {
	id := r.Header.Get(UserIDHeader)
	if id == "" {
		return "", apperrors.InvalidInput("Missing " + UserIDHeader + " header")
	}
	return id, nil
}

func ExtractLimitOffset(r *http.Request) (int, int64, error) {
	query := r.URL.Query()

	limit := 0
	if s := query.Get("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil {
			return 0, 0, apperrors.InvalidInput("invalid limit parameter: " + s)
		}
		limit = v
	}

	var offset int64
	if s := query.Get("offset"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, 0, apperrors.InvalidInput("invalid offset parameter: " + s)
		}
		offset = v
	}

	limit = config.NormalizePaginationLimit(limit)
	offset = config.NormalizeOffset(offset)

	return limit, offset, nil
}
