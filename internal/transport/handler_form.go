package transport

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/fedipanel/model"
)

func handleGetForm(forms FormService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.MustRequestContext(r.Context())
		formID := chi.URLParam(r, "formId")

		desc, err := forms.GetForm(r.Context(), rctx.Session, formID, queryParams(r))
		if err != nil {
			fail(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, desc)
	}
}

// handleSubmitForm answers with the mutation result. A settled backend
// error keeps its envelope in the body and maps it to the response status.
func handleSubmitForm(forms FormService, maxUpload int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.MustRequestContext(r.Context())
		formID := chi.URLParam(r, "formId")

		in, err := decodeSubmission(w, r, maxUpload)
		if err != nil {
			fail(w, r, err)
			return
		}

		resp, err := forms.Submit(r.Context(), rctx.Session, formID, in)
		if err != nil {
			if ee, ok := model.AsEnvelope(err); ok && ee.Code == model.ErrSubmissionPending {
				resp.Error = ee
				WriteJSON(w, StatusFor(ee), resp)
				return
			}
			fail(w, r, err)
			return
		}

		status := http.StatusOK
		if resp.Status == model.MutationError && resp.Error != nil {
			status = StatusFor(resp.Error)
		}
		WriteJSON(w, status, resp)
	}
}

// handleCreatePreview stages one file of a form for preview. The multipart
// body carries the field name in "field" and the upload in "file".
func handleCreatePreview(forms FormService, maxUpload int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.MustRequestContext(r.Context())
		formID := chi.URLParam(r, "formId")

		if maxUpload > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
		}
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			fail(w, r, bodyError(err))
			return
		}
		defer r.MultipartForm.RemoveAll()

		field := r.MultipartForm.Value["field"]
		headers := r.MultipartForm.File["file"]
		if len(field) == 0 || field[0] == "" || len(headers) == 0 {
			fail(w, r, model.NewBadRequestError("multipart parts \"field\" and \"file\" are required"))
			return
		}
		file, err := readFile(headers[0])
		if err != nil {
			fail(w, r, err)
			return
		}

		preview, err := forms.Preview(r.Context(), rctx.Session, formID, field[0], file)
		if err != nil {
			fail(w, r, err)
			return
		}
		WriteJSON(w, http.StatusCreated, preview)
	}
}

func handleGetPreview(previews PreviewSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		file, ok := previews.Get(chi.URLParam(r, "previewId"))
		if !ok {
			fail(w, r, model.NewNotFoundError("preview not found"))
			return
		}
		contentType := file.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(file.Data)))
		w.Header().Set("Cache-Control", "private, no-store")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(file.Data)
	}
}
