// Package archive copies accepted envelopes to object storage (S3-compatible,
// or GCS in builds tagged gcp) so the channel's history survives loss of the
// local machine. Records are written as RFC 8785 canonical JSON.
package archive

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gowebpki/jcs"

	"github.com/Mindburn-Labs/hive-statechannel/pkg/chain"
)

// Record is the archived form of one accepted envelope.
type Record struct {
	Hash          string  `json:"hash"`
	PreviousHash  string  `json:"previous_hash"`
	Ordinal       *uint64 `json:"ordinal,omitempty"`
	SignerAddress string  `json:"signer_address"`
	PublicKey     string  `json:"public_key"`
	Signature     string  `json:"signature"`
	Content       []byte  `json:"content"`
}

func NewRecord(env *chain.Envelope, ordinal *uint64) Record {
	return Record{
		Hash:          env.Hash().String(),
		PreviousHash:  env.PreviousHash.String(),
		Ordinal:       ordinal,
		SignerAddress: env.SignerAddress,
		PublicKey:     hex.EncodeToString(env.PublicKey),
		Signature:     hex.EncodeToString(env.Signature),
		Content:       env.Content,
	}
}

// Canonical returns the record as canonical JSON, so the same envelope always
// archives to the same bytes.
func (r Record) Canonical() ([]byte, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("archive: marshal: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("archive: canonicalize: %w", err)
	}
	return out, nil
}

// Sink stores accepted envelopes.
type Sink interface {
	Archive(ctx context.Context, env *chain.Envelope, ordinal *uint64) error
}

// GCSConfig holds configuration for the GCS archive.
type GCSConfig struct {
	Bucket string
	Prefix string
}

func objectKey(prefix string, env *chain.Envelope) string {
	return prefix + env.SignerAddress + "/" + env.Hash().String() + ".json"
}

// ObjectAPI is the subset of the S3 client the archive uses.
type ObjectAPI interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Archive struct {
	client ObjectAPI
	bucket string
	prefix string
}

// S3Config holds configuration for S3Archive.
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string // Optional custom endpoint (MinIO, LocalStack)
	Prefix   string
}

// NewS3 builds an archive using the default AWS credential chain.
func NewS3(ctx context.Context, cfg S3Config) (*S3Archive, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3WithClient(client, cfg.Bucket, cfg.Prefix), nil
}

func NewS3WithClient(client ObjectAPI, bucket, prefix string) *S3Archive {
	return &S3Archive{client: client, bucket: bucket, prefix: prefix}
}

// Key is where the envelope is stored: prefix/address/hash.json.
func (a *S3Archive) Key(env *chain.Envelope) string {
	return objectKey(a.prefix, env)
}

// Archive uploads env unless it is already present.
func (a *S3Archive) Archive(ctx context.Context, env *chain.Envelope, ordinal *uint64) error {
	key := a.Key(env)

	if _, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	}); err == nil {
		return nil
	}

	body, err := NewRecord(env, ordinal).Canonical()
	if err != nil {
		return err
	}
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("s3 put failed: %w", err)
	}
	return nil
}
