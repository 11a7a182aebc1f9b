package media

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/whatsapp-helpdesk/internal/config"
)

type recordingPutter struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (p *recordingPutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if p.err != nil {
		return nil, p.err
	}
	p.input = in
	p.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, nil
}

func TestObjectKey(t *testing.T) {
	key := ObjectKey(Object{
		OrganizationID: "org-1",
		Phone:          "+5511999990000",
		MessageID:      "3EB0C767",
		Kind:           "audio",
		ReceivedAt:     time.Date(2024, 3, 7, 23, 0, 0, 0, time.UTC),
	}, "audio/ogg; codecs=opus")
	assert.Equal(t, "orgs/org-1/inbox/5511999990000/2024/03/07/audio/3EB0C767.ogg", key)
}

func TestArchiveUploadsDecodedBytes(t *testing.T) {
	putter := &recordingPutter{}
	archiver := NewS3Archiver(putter, config.MediaConfig{Bucket: "media", PublicURL: "https://cdn.example.com/"}, zap.NewNop())

	url, err := archiver.Archive(context.Background(), Object{
		OrganizationID: "org-1",
		Phone:          "+5511999990000",
		MessageID:      "M1",
		Kind:           "image",
		MimeType:       "image/jpeg",
		Base64:         base64.StdEncoding.EncodeToString([]byte("jpeg-bytes")),
		ReceivedAt:     time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/orgs/org-1/inbox/5511999990000/2024/01/02/image/M1.jpg", url)
	require.NotNil(t, putter.input)
	assert.Equal(t, "media", aws.ToString(putter.input.Bucket))
	assert.Equal(t, "image/jpeg", aws.ToString(putter.input.ContentType))
	assert.Equal(t, []byte("jpeg-bytes"), putter.body)
}

func TestArchiveAcceptsDataURL(t *testing.T) {
	putter := &recordingPutter{}
	archiver := NewS3Archiver(putter, config.MediaConfig{Bucket: "media", Region: "sa-east-1"}, zap.NewNop())

	url, err := archiver.Archive(context.Background(), Object{
		OrganizationID: "o",
		Phone:          "+1",
		MessageID:      "M2",
		Kind:           "document",
		Base64:         "data:application/pdf;base64," + base64.StdEncoding.EncodeToString([]byte("%PDF")),
	})
	require.NoError(t, err)
	assert.Contains(t, url, "https://media.s3.sa-east-1.amazonaws.com/orgs/o/inbox/1/")
	assert.Contains(t, url, "/document/M2.pdf")
	assert.Equal(t, []byte("%PDF"), putter.body)
}

func TestArchiveErrors(t *testing.T) {
	archiver := NewS3Archiver(&recordingPutter{err: errors.New("denied")}, config.MediaConfig{Bucket: "b"}, zap.NewNop())
	_, err := archiver.Archive(context.Background(), Object{MessageID: "x", Base64: base64.StdEncoding.EncodeToString([]byte("a"))})
	assert.ErrorContains(t, err, "denied")

	_, err = archiver.Archive(context.Background(), Object{MessageID: "x"})
	assert.ErrorIs(t, err, errEmptyMedia)
}
