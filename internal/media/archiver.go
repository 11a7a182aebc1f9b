package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/vincent-petithory/dataurl"
	"go.uber.org/zap"

	"github.com/spec-kit/whatsapp-helpdesk/internal/config"
)

// ObjectPutter is the S3 call the archiver needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Object is a media payload to archive.
type Object struct {
	OrganizationID string
	Phone          string
	MessageID      string
	Kind           string
	MimeType       string
	// Base64 is either bare base64 or a data URL.
	Base64     string
	ReceivedAt time.Time
}

// S3Archiver stores inbound media so the ticket keeps a durable URL after the
// gateway URL expires.
type S3Archiver struct {
	client    ObjectPutter
	bucket    string
	publicURL string
	logger    *zap.Logger
}

// NewS3Client builds an S3 client for S3 compatible endpoints.
func NewS3Client(cfg config.MediaConfig) *s3.Client {
	awsCfg := aws.Config{
		Region: cfg.Region,
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
	}
	pathStyle := cfg.PathStyle || strings.Contains(cfg.Bucket, ".")
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = pathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
}

// NewS3Archiver wires an archiver. publicURL defaults to the virtual-hosted bucket URL.
func NewS3Archiver(client ObjectPutter, cfg config.MediaConfig, logger *zap.Logger) *S3Archiver {
	publicURL := cfg.PublicURL
	if publicURL == "" {
		if cfg.Endpoint != "" {
			publicURL = strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.Bucket
		} else {
			publicURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
		}
	}
	return &S3Archiver{client: client, bucket: cfg.Bucket, publicURL: strings.TrimRight(publicURL, "/"), logger: logger}
}

// Archive uploads obj and returns its public URL.
func (a *S3Archiver) Archive(ctx context.Context, obj Object) (string, error) {
	data, contentType, err := decodePayload(obj.Base64, obj.MimeType)
	if err != nil {
		return "", err
	}
	key := ObjectKey(obj, contentType)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return "", fmt.Errorf("upload media %s: %w", key, err)
	}
	a.logger.Debug("media archived", zap.String("key", key), zap.Int("bytes", len(data)))
	return a.publicURL + "/" + key, nil
}

// ObjectKey builds orgs/<org>/inbox/<phone>/<yyyy>/<mm>/<dd>/<kind>/<message-id><ext>.
func ObjectKey(obj Object, contentType string) string {
	at := obj.ReceivedAt
	if at.IsZero() {
		at = time.Now()
	}
	at = at.UTC()
	phone := strings.TrimPrefix(obj.Phone, "+")
	kind := obj.Kind
	if kind == "" {
		kind = "document"
	}
	return fmt.Sprintf("orgs/%s/inbox/%s/%s/%s/%s/%s/%s%s",
		obj.OrganizationID, phone,
		at.Format("2006"), at.Format("01"), at.Format("02"),
		kind, obj.MessageID, extensionFor(contentType))
}

var errEmptyMedia = errors.New("empty media payload")

func decodePayload(payload, mimeType string) ([]byte, string, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, "", errEmptyMedia
	}
	if strings.HasPrefix(payload, "data:") {
		du, err := dataurl.DecodeString(payload)
		if err != nil {
			return nil, "", fmt.Errorf("decode media data url: %w", err)
		}
		contentType := du.MediaType.ContentType()
		if mimeType != "" {
			contentType = mimeType
		}
		return du.Data, contentType, nil
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("decode media base64: %w", err)
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return data, mimeType, nil
}

var preferredExtensions = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/webp":      ".webp",
	"audio/ogg":       ".ogg",
	"audio/mpeg":      ".mp3",
	"video/mp4":       ".mp4",
	"application/pdf": ".pdf",
}

func extensionFor(contentType string) string {
	base, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		base = strings.TrimSpace(strings.Split(contentType, ";")[0])
	}
	if ext, ok := preferredExtensions[base]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(base); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}
