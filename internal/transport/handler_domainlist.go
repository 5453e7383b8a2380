package transport

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/pitabwire/fedipanel/internal/domainlist"
	"github.com/pitabwire/fedipanel/model"
)

var exportContentTypes = map[domainlist.Format]string{
	domainlist.FormatJSON:  "application/json; charset=utf-8",
	domainlist.FormatCSV:   "text/csv; charset=utf-8",
	domainlist.FormatPlain: "text/plain; charset=utf-8",
}

// readDomainList reads the list from a multipart "file" part or, for any
// other content type, from the raw body.
func readDomainList(w http.ResponseWriter, r *http.Request, maxBytes int64) ([]byte, error) {
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, bodyError(err)
		}
		return data, nil
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return nil, bodyError(err)
	}
	defer r.MultipartForm.RemoveAll()
	headers := r.MultipartForm.File["file"]
	if len(headers) == 0 {
		return nil, model.NewBadRequestError("multipart part \"file\" is required")
	}
	f, err := readFile(headers[0])
	if err != nil {
		return nil, err
	}
	return f.Data, nil
}

func handleParseDomainList(maxBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := readDomainList(w, r, maxBytes)
		if err != nil {
			fail(w, r, err)
			return
		}

		entries, format, err := domainlist.Parse(data)
		if errors.Is(err, domainlist.ErrEmptyList) {
			fail(w, r, model.NewBadRequestError("domain list is empty"))
			return
		}
		if err != nil {
			fail(w, r, model.NewBadRequestError(err.Error()))
			return
		}
		WriteJSON(w, http.StatusOK, model.DomainListResponse{
			Format:  string(format),
			Entries: entries,
			Invalid: domainlist.Invalid(entries),
		})
	}
}

// handleExportDomainList serializes a JSON array of entries into the format
// named by the "format" query parameter. Entries are revalidated and the
// invalid ones dropped.
func handleExportDomainList(maxBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		format := domainlist.Format(r.URL.Query().Get("format"))
		if format == "" {
			format = domainlist.FormatJSON
		}
		contentType, ok := exportContentTypes[format]
		if !ok {
			fail(w, r, model.NewBadRequestError("format must be json, csv, or plain"))
			return
		}

		if maxBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		}
		var entries []model.DomainEntry
		if err := json.NewDecoder(r.Body).Decode(&entries); err != nil {
			fail(w, r, bodyError(err))
			return
		}

		domainlist.Check(entries)
		out, err := domainlist.Export(entries, format)
		if err != nil {
			fail(w, r, model.NewBadRequestError(err.Error()))
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Disposition", `attachment; filename="domains.`+exportExtension(format)+`"`)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(out)
	}
}

func exportExtension(f domainlist.Format) string {
	if f == domainlist.FormatPlain {
		return "txt"
	}
	return string(f)
}
