package metadata

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pitabwire/fedipanel/internal/form"
	"github.com/pitabwire/fedipanel/model"
)

// drafts holds the file fields a session has staged for preview, one per
// (session, form, field). Staging a new file revokes the preview of the one
// it replaces. Entries not restaged within ttl are released by sweep.
type drafts struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	fields map[string]*draft
}

type draft struct {
	fld     *form.FileField
	expires time.Time
}

const defaultDraftTTL = 15 * time.Minute

func newDrafts(ttl time.Duration) *drafts {
	if ttl <= 0 {
		ttl = defaultDraftTTL
	}
	return &drafts{ttl: ttl, now: time.Now, fields: make(map[string]*draft)}
}

func draftKey(sessionID, formID, field string) string {
	return sessionID + "\x00" + formID + "\x00" + field
}

// stage selects file on the field staged under key and extends its
// lifetime. candidate becomes the staged field when key has none yet.
func (d *drafts) stage(key string, candidate *form.FileField, file *form.File) *form.FileField {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	d.sweepLocked(now)
	dr, ok := d.fields[key]
	if !ok {
		dr = &draft{fld: candidate}
		d.fields[key] = dr
	}
	dr.expires = now.Add(d.ttl)
	dr.fld.Choose(file)
	return dr.fld
}

// file returns the file staged under key, or nil when there is none or it
// has expired.
func (d *drafts) file(key string) *form.File {
	d.mu.Lock()
	defer d.mu.Unlock()
	dr, ok := d.fields[key]
	if !ok {
		return nil
	}
	if !d.now().Before(dr.expires) {
		dr.fld.Release()
		delete(d.fields, key)
		return nil
	}
	return dr.fld.File()
}

// release revokes every staged preview whose key starts with prefix.
func (d *drafts) release(prefix string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for k, dr := range d.fields {
		if strings.HasPrefix(k, prefix) {
			dr.fld.Release()
			delete(d.fields, k)
			n++
		}
	}
	return n
}

// sweep releases expired drafts and returns how many it removed.
func (d *drafts) sweep() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sweepLocked(d.now())
}

func (d *drafts) sweepLocked(now time.Time) int {
	n := 0
	for k, dr := range d.fields {
		if !now.Before(dr.expires) {
			dr.fld.Release()
			delete(d.fields, k)
			n++
		}
	}
	return n
}

func (d *drafts) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.fields)
}

// Preview stages file for the named file field of formID and returns its
// preview URL. Oversized files are reported but not rejected, matching what
// the form would do on submit.
func (p *FormProvider) Preview(ctx context.Context, sess *model.Session, formID, field string, file *form.File) (model.PreviewResponse, error) {
	def, err := p.definition(sess, formID)
	if err != nil {
		return model.PreviewResponse{}, err
	}
	var fd *model.FieldDefinition
	for i := range def.Fields {
		if def.Fields[i].Name == field && def.Fields[i].Kind == model.FieldFile {
			fd = &def.Fields[i]
			break
		}
	}
	if fd == nil {
		return model.PreviewResponse{}, model.NewBadRequestError(fmt.Sprintf("%q is not a file field of form %q", field, formID))
	}
	if file == nil {
		return model.PreviewResponse{}, model.NewBadRequestError("no file uploaded")
	}
	if p.previews == nil {
		return model.PreviewResponse{}, model.NewInternalError()
	}

	built, err := buildField(*fd, nil, p.previews)
	if err != nil {
		return model.PreviewResponse{}, model.NewInternalError()
	}
	fld := p.drafts.stage(draftKey(sessionID(sess), formID, field), built.(*form.FileField), file)

	return model.PreviewResponse{
		Field:         field,
		URL:           fld.PreviewURL(),
		Size:          file.Size,
		FormattedSize: fld.FormattedSize(),
		TooLarge:      fld.TooLarge(),
		Message:       fld.Message(),
	}, nil
}

// ReleaseSession revokes every preview staged by a session. It is wired as
// the session manager's end hook.
func (p *FormProvider) ReleaseSession(sessionID string) {
	p.drafts.release(sessionID + "\x00")
}

// SweepDrafts releases staged previews older than the draft TTL. Sessions
// removed by store expiry never reach the end hook, so the server runs this
// periodically.
func (p *FormProvider) SweepDrafts() int {
	return p.drafts.sweep()
}
