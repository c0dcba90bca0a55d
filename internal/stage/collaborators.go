package stage

import (
	"context"
	"io"
	"time"
)

// UploadRecord is what the ledger remembers about an uploaded object.
type UploadRecord struct {
	Destination string
	Key         string
	Checksum    string
	Size        int64
	UploadedAt  time.Time
	RunID       string
}

// Ledger remembers uploaded objects so unchanged files are not sent again.
type Ledger interface {
	// Lookup returns the record for key at destination, or nil if none exists.
	Lookup(ctx context.Context, destination, key string) (*UploadRecord, error)
	Record(ctx context.Context, rec UploadRecord) error
}

// Object is one file to store remotely.
type Object struct {
	Key             string
	Body            io.ReadSeeker
	Size            int64
	ContentType     string
	ContentEncoding string
	CacheControl    string
	Expires         time.Time
	ACL             string
}

// ObjectStore receives uploaded files.
type ObjectStore interface {
	// Destination identifies the store in the ledger, e.g. "s3://bucket".
	Destination() string
	Put(ctx context.Context, obj Object) error
}

// Message is a test email.
type Message struct {
	From    string
	To      []string
	Subject string
	HTML    string
	Tags    []string
}

// Mailer sends test emails.
type Mailer interface {
	// Send delivers msg and returns the provider's message id.
	Send(ctx context.Context, msg Message) (string, error)
}

// RenderTest is one submission to an email rendering service.
type RenderTest struct {
	Title   string
	HTML    string
	Clients []string
}

// RenderTester submits render tests.
type RenderTester interface {
	// Submit creates the test and returns the provider's test id.
	Submit(ctx context.Context, test RenderTest) (string, error)
}

// S3Connection holds what is needed to reach an S3 bucket.
type S3Connection struct {
	Key       string
	Secret    string
	Region    string
	Bucket    string
	Endpoint  string
	PathStyle bool
}

// CloudFilesConnection holds Rackspace credentials and the target container.
type CloudFilesConnection struct {
	User      string
	Key       string
	Region    string
	Container string
	AuthURL   string
}

// MailgunConnection holds Mailgun credentials.
type MailgunConnection struct {
	Key     string
	Domain  string
	APIBase string
}

// LitmusConnection holds Litmus credentials.
type LitmusConnection struct {
	Username string
	Password string
	URL      string
}

// Dependencies are the collaborators stage executors are built with.
// Remote clients are created per stage run because their credentials are
// stage options.
type Dependencies struct {
	Ledger Ledger
	Clock  interface{ Now() time.Time }

	NewS3Store         func(ctx context.Context, c S3Connection) (ObjectStore, error)
	NewCloudFilesStore func(ctx context.Context, c CloudFilesConnection) (ObjectStore, error)
	NewDirStore        func(dir string) (ObjectStore, error)
	NewMailer          func(c MailgunConnection) (Mailer, error)
	NewRenderTester    func(c LitmusConnection) (RenderTester, error)
}
