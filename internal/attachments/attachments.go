// Package attachments keeps files referenced by documents. Each attachment is
// a blob addressed by owner, code and an opaque handle; the owner holds no
// back-pointer, lookups go through (owner, code).
package attachments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"partnercore/internal/blob"
	"partnercore/pkg/domain"
)

const (
	stagingPrefix = "staging"

	metaCode     = "code"
	metaFileType = "file_type"
	metaFilename = "filename"
	metaUploader = "uploaded_by"
)

// Owner identifies the document an attachment belongs to.
type Owner = domain.Ref

// Attachment describes one stored file.
type Attachment struct {
	Handle      string                `json:"handle"`
	Code        domain.AttachmentCode `json:"code"`
	FileType    string                `json:"file_type,omitempty"`
	Filename    string                `json:"filename"`
	ContentType string                `json:"content_type,omitempty"`
	Owner       *Owner                `json:"owner,omitempty"`
	Size        int64                 `json:"size"`
	UploadedBy  string                `json:"uploaded_by,omitempty"`
	Uploaded    time.Time             `json:"uploaded"`
}

// Upload carries the content and labels of a new file.
type Upload struct {
	Filename    string
	ContentType string
	FileType    string
	UploadedBy  string
	Body        io.Reader
}

// Finder is the read side the validation pipeline depends on.
type Finder interface {
	Find(ctx context.Context, owner Owner, code domain.AttachmentCode) ([]Attachment, error)
}

// Store manages attachments on top of a blob store.
type Store struct {
	blobs blob.Store
}

// New wraps blobs.
func New(blobs blob.Store) *Store {
	return &Store{blobs: blobs}
}

// Blobs exposes the underlying content store.
func (s *Store) Blobs() blob.Store { return s.blobs }

func ownerPrefix(owner Owner) string {
	return fmt.Sprintf("%s/%s/%s/", owner.Tenant, owner.Kind, owner.ID)
}

func ownedKey(owner Owner, code domain.AttachmentCode, handle string) string {
	return ownerPrefix(owner) + string(code) + "/" + handle
}

func stagedKey(tenant, handle string) string {
	return stagingPrefix + "/" + tenant + "/" + handle
}

func validOwner(owner Owner) error {
	if owner.Tenant == "" || owner.ID == "" {
		return domain.UnknownSubject("attachment owner", "owner tenant and id are required")
	}
	if _, err := domain.ParseKind(string(owner.Kind)); err != nil {
		return err
	}
	return nil
}

// Upload stores content directly under owner with code.
func (s *Store) Upload(ctx context.Context, owner Owner, code domain.AttachmentCode, up Upload) (Attachment, error) {
	if err := validOwner(owner); err != nil {
		return Attachment{}, err
	}
	if _, err := domain.ParseAttachmentCode(string(code)); err != nil {
		return Attachment{}, err
	}
	handle := uuid.NewString()
	info, err := s.put(ctx, ownedKey(owner, code, handle), code, up)
	if err != nil {
		return Attachment{}, err
	}
	return fromInfo(info, &owner)
}

// Stage stores content for tenant without an owner. The returned handle is
// later bound with Attach.
func (s *Store) Stage(ctx context.Context, tenant string, up Upload) (Attachment, error) {
	if tenant == "" {
		return Attachment{}, domain.UnknownSubject("stage attachment", "tenant is required")
	}
	handle := uuid.NewString()
	info, err := s.put(ctx, stagedKey(tenant, handle), "", up)
	if err != nil {
		return Attachment{}, err
	}
	return fromInfo(info, nil)
}

func (s *Store) put(ctx context.Context, key string, code domain.AttachmentCode, up Upload) (blob.Info, error) {
	if strings.TrimSpace(up.Filename) == "" {
		fields := domain.FieldErrors{}
		fields.Add("file", "Filename is required.")
		return blob.Info{}, domain.ValidationFailed("upload attachment", fields)
	}
	if up.Body == nil {
		up.Body = strings.NewReader("")
	}
	meta := map[string]string{metaFilename: up.Filename}
	if code != "" {
		meta[metaCode] = string(code)
	}
	if up.FileType != "" {
		meta[metaFileType] = up.FileType
	}
	if up.UploadedBy != "" {
		meta[metaUploader] = up.UploadedBy
	}
	info, err := s.blobs.Put(ctx, key, up.Body, blob.PutOptions{ContentType: up.ContentType, Metadata: meta})
	if err != nil {
		return blob.Info{}, fmt.Errorf("store attachment: %w", err)
	}
	return info, nil
}

// Attach binds a staged handle to owner under code. The staged copy is
// removed once the owned copy exists.
func (s *Store) Attach(ctx context.Context, owner Owner, code domain.AttachmentCode, handle string) (Attachment, error) {
	if err := validOwner(owner); err != nil {
		return Attachment{}, err
	}
	if _, err := domain.ParseAttachmentCode(string(code)); err != nil {
		return Attachment{}, err
	}
	src := stagedKey(owner.Tenant, handle)
	info, body, err := s.blobs.Get(ctx, src)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return Attachment{}, domain.ChildNotFound("attach", "attachment", handle)
		}
		return Attachment{}, fmt.Errorf("read staged attachment: %w", err)
	}
	defer func() { _ = body.Close() }()
	meta := blob.PutOptions{ContentType: info.ContentType, Metadata: info.Metadata}
	if meta.Metadata == nil {
		meta.Metadata = map[string]string{}
	}
	meta.Metadata[metaCode] = string(code)
	owned, err := s.blobs.Put(ctx, ownedKey(owner, code, handle), body, meta)
	if err != nil {
		return Attachment{}, fmt.Errorf("attach %s: %w", handle, err)
	}
	if _, err := s.blobs.Delete(ctx, src); err != nil {
		return Attachment{}, fmt.Errorf("drop staged attachment: %w", err)
	}
	return fromInfo(owned, &owner)
}

// Find lists owner's attachments with code, ordered by handle.
func (s *Store) Find(ctx context.Context, owner Owner, code domain.AttachmentCode) ([]Attachment, error) {
	return s.list(ctx, owner, ownerPrefix(owner)+string(code)+"/")
}

// All lists every attachment of owner.
func (s *Store) All(ctx context.Context, owner Owner) ([]Attachment, error) {
	return s.list(ctx, owner, ownerPrefix(owner))
}

func (s *Store) list(ctx context.Context, owner Owner, prefix string) ([]Attachment, error) {
	infos, err := s.blobs.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	out := make([]Attachment, 0, len(infos))
	for _, info := range infos {
		// Listings from object stores omit user metadata.
		if info.Metadata == nil {
			if info, err = s.blobs.Head(ctx, info.Key); err != nil {
				return nil, fmt.Errorf("head attachment: %w", err)
			}
		}
		att, err := fromInfo(info, &owner)
		if err != nil {
			return nil, err
		}
		out = append(out, att)
	}
	return out, nil
}

// Open returns the content of one of owner's attachments.
func (s *Store) Open(ctx context.Context, owner Owner, handle string) (Attachment, io.ReadCloser, error) {
	att, err := s.lookup(ctx, owner, handle)
	if err != nil {
		return Attachment{}, nil, err
	}
	_, body, err := s.blobs.Get(ctx, ownedKey(owner, att.Code, handle))
	if err != nil {
		return Attachment{}, nil, fmt.Errorf("open attachment: %w", err)
	}
	return att, body, nil
}

// URL returns a download link for one of owner's attachments.
func (s *Store) URL(ctx context.Context, owner Owner, handle string, expiry time.Duration) (string, error) {
	att, err := s.lookup(ctx, owner, handle)
	if err != nil {
		return "", err
	}
	return s.blobs.PresignURL(ctx, ownedKey(owner, att.Code, handle), blob.SignedURLOptions{Expiry: expiry})
}

// Detach removes one of owner's attachments by handle.
func (s *Store) Detach(ctx context.Context, owner Owner, handle string) error {
	att, err := s.lookup(ctx, owner, handle)
	if err != nil {
		return err
	}
	if _, err := s.blobs.Delete(ctx, ownedKey(owner, att.Code, handle)); err != nil {
		return fmt.Errorf("detach %s: %w", handle, err)
	}
	return nil
}

// DetachAll removes every attachment of owner and returns how many were removed.
func (s *Store) DetachAll(ctx context.Context, owner Owner) (int, error) {
	infos, err := s.blobs.List(ctx, ownerPrefix(owner))
	if err != nil {
		return 0, fmt.Errorf("list attachments: %w", err)
	}
	removed := 0
	for _, info := range infos {
		ok, err := s.blobs.Delete(ctx, info.Key)
		if err != nil {
			return removed, fmt.Errorf("detach %s: %w", info.Key, err)
		}
		if ok {
			removed++
		}
	}
	return removed, nil
}

func (s *Store) lookup(ctx context.Context, owner Owner, handle string) (Attachment, error) {
	all, err := s.All(ctx, owner)
	if err != nil {
		return Attachment{}, err
	}
	for _, att := range all {
		if att.Handle == handle {
			return att, nil
		}
	}
	return Attachment{}, domain.ChildNotFound("find attachment", "attachment", handle)
}

func fromInfo(info blob.Info, owner *Owner) (Attachment, error) {
	idx := strings.LastIndex(info.Key, "/")
	if idx < 0 {
		return Attachment{}, fmt.Errorf("malformed attachment key %q", info.Key)
	}
	att := Attachment{
		Handle:      info.Key[idx+1:],
		Code:        domain.AttachmentCode(info.Metadata[metaCode]),
		FileType:    info.Metadata[metaFileType],
		Filename:    info.Metadata[metaFilename],
		ContentType: info.ContentType,
		Size:        info.Size,
		UploadedBy:  info.Metadata[metaUploader],
		Uploaded:    info.LastModified,
	}
	if owner != nil {
		o := *owner
		att.Owner = &o
	}
	return att, nil
}
