package tracking

import (
	"context"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// S3Config configures checkpoint uploads.
type S3Config struct {
	Region   string `mapstructure:"region"`
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
	Endpoint string `mapstructure:"endpoint"`
}

type uploader interface {
	UploadWithContext(ctx aws.Context, input *s3manager.UploadInput, opts ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error)
}

// S3Archiver uploads saved checkpoints to a bucket under prefix/run/.
type S3Archiver struct {
	bucket string
	prefix string
	up     uploader
	log    logrus.FieldLogger
}

// NewS3Archiver creates an archiver using the default credential chain.
func NewS3Archiver(conf S3Config, run string, log logrus.FieldLogger) (*S3Archiver, error) {
	if conf.Bucket == "" {
		return nil, errors.New("S3 bucket not set")
	}
	awsConf := &aws.Config{Region: aws.String(conf.Region)}
	if conf.Endpoint != "" {
		awsConf.Endpoint = aws.String(conf.Endpoint)
		awsConf.S3ForcePathStyle = aws.Bool(true)
	}
	sess, err := session.NewSession(awsConf)
	if err != nil {
		return nil, errors.Wrap(err, "creating AWS session")
	}
	return newS3Archiver(s3manager.NewUploader(sess), conf.Bucket, path.Join(conf.Prefix, run), log), nil
}

func newS3Archiver(up uploader, bucket, prefix string, log logrus.FieldLogger) *S3Archiver {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &S3Archiver{bucket: bucket, prefix: prefix, up: up, log: log}
}

// Key is the object key a file is uploaded to.
func (a *S3Archiver) Key(filename string) string {
	return path.Join(a.prefix, filepath.Base(filename))
}

// Archive uploads a file.
func (a *S3Archiver) Archive(ctx context.Context, filename string) error {
	f, err := os.Open(filename)
	if err != nil {
		return errors.WithStack(err)
	}
	defer f.Close()
	key := a.Key(filename)
	out, err := a.up.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return errors.Wrapf(err, "uploading %v to s3://%v/%v", filename, a.bucket, key)
	}
	a.log.WithFields(logrus.Fields{"location": out.Location, "file": filename}).Info("checkpoint archived")
	return nil
}
