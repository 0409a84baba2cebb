package issues

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/joescharf/ait/internal/apiclient"
	"github.com/joescharf/ait/internal/apperr"
	"github.com/joescharf/ait/internal/models"
)

// IssueDateLayout is the wire format of IssueDraft.IssueDate.
const IssueDateLayout = "2006-01-02"

// maxAttachmentBytes bounds uploaded files.
const maxAttachmentBytes = 10 << 20

// Validate checks a draft without touching the network. Missing required
// fields are reported together in form order.
func Validate(d models.IssueDraft) error {
	required := []struct {
		name  string
		value string
	}{
		{"title", d.Title},
		{"description", d.Description},
		{"category", string(d.Category)},
		{"courseCode", d.CourseCode},
		{"studentId", d.StudentID},
		{"studentName", d.StudentName},
	}
	var missing []string
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return apperr.NewValidation(missing...)
	}

	if !d.Category.Valid() {
		return &apperr.ValidationError{Fields: []string{"category"}, Message: fmt.Sprintf("unknown category %q", d.Category)}
	}
	if d.Priority != "" && !d.Priority.Valid() {
		return &apperr.ValidationError{Fields: []string{"priority"}, Message: fmt.Sprintf("unknown priority %q", d.Priority)}
	}
	return nil
}

// Normalize trims text fields and fills the derived and defaulted ones.
func (s *Service) Normalize(d models.IssueDraft) models.IssueDraft {
	for _, p := range []*string{
		&d.Title, &d.Description, &d.CourseCode, &d.StudentID, &d.StudentName,
		&d.Lecturer, &d.Department, &d.Semester, &d.AcademicYear,
	} {
		*p = strings.TrimSpace(*p)
	}
	if d.Priority == "" {
		d.Priority = models.IssuePriorityMedium
	}
	d.IssueDate = s.now().Format(IssueDateLayout)
	return d
}

// Submit sends a new issue for the signed-in student. It makes exactly one
// request and never retries; identical submits arriving while one is in
// flight share its result. The returned issue is nil when the server confirms
// without echoing the record.
func (s *Service) Submit(ctx context.Context, draft models.IssueDraft) (*models.Issue, error) {
	if err := Validate(draft); err != nil {
		return nil, err
	}
	if _, err := s.session(ctx); err != nil {
		return nil, err
	}
	draft = s.Normalize(draft)

	key, err := submitKey(draft)
	if err != nil {
		return nil, err
	}
	v, err, shared := s.submits.Do(key, func() (any, error) {
		return s.submit(ctx, draft)
	})
	if shared {
		s.logger.Debug("joined in-flight submit", zap.String("title", draft.Title))
	}
	if err != nil {
		return nil, err
	}
	return v.(*models.Issue), nil
}

func (s *Service) submit(ctx context.Context, draft models.IssueDraft) (*models.Issue, error) {
	req := apiclient.Request{
		Method:        http.MethodPost,
		Path:          s.cfg.Paths.Issues,
		Authenticated: true,
	}
	if draft.AttachmentPath == "" {
		req.JSON = draft
	} else {
		body, contentType, err := multipartDraft(draft)
		if err != nil {
			return nil, err
		}
		req.Body = body
		req.ContentType = contentType
	}
	if err := s.attachCSRF(ctx, &req); err != nil {
		return nil, err
	}

	resp, err := s.api.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		s.logger.Debug("submit rejected", zap.Int("status", resp.Status))
		return nil, &apperr.SubmitError{Status: resp.Status, Message: resp.ErrorMessage()}
	}
	s.invalidate(ctx)

	var iss models.Issue
	if err := resp.Decode(&iss); err != nil || iss.ID == "" {
		s.logger.Debug("submit confirmed without issue body", zap.Int("status", resp.Status))
		return nil, nil
	}
	s.logger.Info("issue submitted", zap.String("id", iss.ID.String()))
	return &iss, nil
}

func submitKey(d models.IssueDraft) (string, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("encode draft: %w", err)
	}
	sum := sha256.Sum256(append(data, d.AttachmentPath...))
	return hex.EncodeToString(sum[:]), nil
}

// multipartDraft encodes the draft fields plus the attachment as
// multipart/form-data, using the same field names as the JSON body.
func multipartDraft(d models.IssueDraft) (io.Reader, string, error) {
	f, err := os.Open(d.AttachmentPath)
	if err != nil {
		return nil, "", &apperr.ValidationError{Fields: []string{"attachment"}, Message: fmt.Sprintf("cannot read attachment: %v", err)}
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, "", fmt.Errorf("stat attachment: %w", err)
	}
	if info.Size() > maxAttachmentBytes {
		return nil, "", &apperr.ValidationError{Fields: []string{"attachment"}, Message: "attachment is larger than 10 MB"}
	}

	raw, err := json.Marshal(d)
	if err != nil {
		return nil, "", fmt.Errorf("encode draft: %w", err)
	}
	var fields map[string]string
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, "", fmt.Errorf("encode draft: %w", err)
	}
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, k := range names {
		if err := w.WriteField(k, fields[k]); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", k, err)
		}
	}
	part, err := w.CreateFormFile("attachment", filepath.Base(d.AttachmentPath))
	if err != nil {
		return nil, "", fmt.Errorf("create attachment part: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("copy attachment: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart body: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}
