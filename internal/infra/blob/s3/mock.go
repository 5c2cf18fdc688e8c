package s3

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// NewMockForTests returns a Store whose client talks to an in-process fake
// bucket. Only the requests issued by Store are understood.
func NewMockForTests() *Store {
	rt := &fakeBucket{objects: make(map[string]fakeObject)}
	cfg, _ := config.LoadDefaultConfig(context.Background(),
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("AKIA", "SECRET", "")),
	)
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.HTTPClient = &http.Client{Transport: rt}
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String("https://mock.s3.local")
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})
	return &Store{client: client, bucket: "mock-bucket"}
}

type fakeObject struct {
	body        []byte
	contentType string
	metadata    map[string]string
	modified    time.Time
}

func (o fakeObject) etag() string {
	sum := md5.Sum(o.body)
	return "\"" + hex.EncodeToString(sum[:]) + "\""
}

// fakeBucket serves path-style requests: /<bucket>/<key>.
type fakeBucket struct {
	mu      sync.Mutex
	objects map[string]fakeObject
}

func (b *fakeBucket) RoundTrip(req *http.Request) (*http.Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	if req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2" {
		return b.list(req.URL.Query().Get("prefix")), nil
	}
	switch req.Method {
	case http.MethodHead, http.MethodGet:
		obj, ok := b.objects[key]
		if !ok {
			return respond(http.StatusNotFound, nil, http.Header{}), nil
		}
		header := http.Header{
			"Content-Length": {strconv.Itoa(len(obj.body))},
			"Content-Type":   {obj.contentType},
			"Etag":           {obj.etag()},
			"Last-Modified":  {obj.modified.Format(http.TimeFormat)},
		}
		for k, v := range obj.metadata {
			header.Set("X-Amz-Meta-"+k, v)
		}
		if req.Method == http.MethodHead {
			return respond(http.StatusOK, nil, header), nil
		}
		return respond(http.StatusOK, obj.body, header), nil
	case http.MethodPut:
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		meta := make(map[string]string)
		for k, v := range req.Header {
			lower := strings.ToLower(k)
			if strings.HasPrefix(lower, "x-amz-meta-") && len(v) > 0 {
				meta[strings.TrimPrefix(lower, "x-amz-meta-")] = v[0]
			}
		}
		obj := fakeObject{body: body, contentType: req.Header.Get("Content-Type"), metadata: meta, modified: time.Now().UTC()}
		b.objects[key] = obj
		return respond(http.StatusOK, nil, http.Header{"Etag": {obj.etag()}}), nil
	case http.MethodDelete:
		delete(b.objects, key)
		return respond(http.StatusNoContent, nil, http.Header{}), nil
	}
	return respond(http.StatusNotImplemented, nil, http.Header{}), nil
}

func (b *fakeBucket) list(prefix string) *http.Response {
	keys := make([]string, 0, len(b.objects))
	for k := range b.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	var out strings.Builder
	out.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult><IsTruncated>false</IsTruncated>`)
	for _, k := range keys {
		obj := b.objects[k]
		fmt.Fprintf(&out, "<Contents><Key>%s</Key><Size>%d</Size><ETag>%s</ETag><LastModified>%s</LastModified></Contents>",
			k, len(obj.body), obj.etag(), obj.modified.Format(time.RFC3339))
	}
	out.WriteString("</ListBucketResult>")
	return respond(http.StatusOK, []byte(out.String()), http.Header{"Content-Type": {"application/xml"}})
}

func respond(status int, body []byte, header http.Header) *http.Response {
	return &http.Response{
		StatusCode:    status,
		Body:          io.NopCloser(bytes.NewReader(body)),
		Header:        header,
		ContentLength: int64(len(body)),
	}
}
