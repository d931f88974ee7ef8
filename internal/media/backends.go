package media

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/anonto42/nano-midea/realtime/internal/resilience"
)

// splitRef splits scheme://bucket/key.
func splitRef(ref string) (bucket, key string, err error) {
	_, rest, ok := strings.Cut(ref, "://")
	if !ok {
		return "", "", resilience.InvalidArgument("media.resolve", "reference %q has no scheme", ref)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", resilience.InvalidArgument("media.resolve", "reference %q must be scheme://bucket/key", ref)
	}
	return bucket, key, nil
}

// Buckets is satisfied by the Firebase storage client.
type Buckets interface {
	Bucket(name string) (*gcs.BucketHandle, error)
}

// FirebaseStorage resolves gs:// references to Firebase download URLs,
// falling back to a signed URL for objects uploaded without a download
// token.
type FirebaseStorage struct {
	buckets Buckets
	ttl     time.Duration
}

const downloadTokensKey = "firebaseStorageDownloadTokens"

func NewFirebaseStorage(buckets Buckets, ttl time.Duration) *FirebaseStorage {
	return &FirebaseStorage{buckets: buckets, ttl: ttl}
}

func (f *FirebaseStorage) Resolve(ctx context.Context, ref string) (string, error) {
	bucketName, key, err := splitRef(ref)
	if err != nil {
		return "", err
	}
	bucket, err := f.buckets.Bucket(bucketName)
	if err != nil {
		return "", fmt.Errorf("failed to open bucket %s: %w", bucketName, err)
	}

	attrs, err := bucket.Object(key).Attrs(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return "", resilience.E(resilience.KindNotFound, "media.resolve", err)
	}
	if err != nil {
		return "", err
	}

	if tokens := attrs.Metadata[downloadTokensKey]; tokens != "" {
		token, _, _ := strings.Cut(tokens, ",")
		return DownloadURL(bucketName, key, token), nil
	}
	return bucket.SignedURL(key, &gcs.SignedURLOptions{
		Method:  "GET",
		Expires: time.Now().Add(f.ttl),
	})
}

// DownloadURL builds the Firebase Storage download URL of an object.
func DownloadURL(bucket, key, token string) string {
	u := url.URL{
		Scheme:   "https",
		Host:     "firebasestorage.googleapis.com",
		Path:     "/v0/b/" + bucket + "/o/" + key,
		RawPath:  "/v0/b/" + bucket + "/o/" + url.PathEscape(key),
		RawQuery: url.Values{"alt": {"media"}, "token": {token}}.Encode(),
	}
	return u.String()
}

// S3 resolves s3:// references to presigned GET URLs.
type S3 struct {
	presigner *s3.PresignClient
	ttl       time.Duration
}

func NewS3(client *s3.Client, ttl time.Duration) *S3 {
	return &S3{presigner: s3.NewPresignClient(client), ttl: ttl}
}

func (b *S3) Resolve(ctx context.Context, ref string) (string, error) {
	bucket, key, err := splitRef(ref)
	if err != nil {
		return "", err
	}
	req, err := b.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(b.ttl))
	if err != nil {
		return "", fmt.Errorf("failed to presign %s: %w", ref, err)
	}
	return req.URL, nil
}
