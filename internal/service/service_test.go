package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"mailecho/backend/internal/blob"
	"mailecho/backend/internal/config"
	"mailecho/backend/internal/domain"
	"mailecho/backend/internal/mailbox"
	"mailecho/backend/internal/monitoring"
	"mailecho/backend/internal/storage"
	"mailecho/backend/internal/telegram"
)

// 指标注册表是全局的，所有服务测试共享一个实例。
var testMetrics = monitoring.NewMetrics()

func newTestConfig() *config.Config {
	return &config.Config{
		Mail: config.MailConfig{
			Domain:        "example.com",
			AliasLength:   8,
			MaxBodyChars:  15000,
			ExcerptChars:  1000,
			DeliveryTries: 3,
			Workers:       2,
		},
		Retrieval: config.RetrievalConfig{
			PublicBaseURL: "https://mail.example.com",
		},
	}
}

type fakeProvisioner struct {
	createErr  error
	disableErr error
	created    []string
	disabled   []string
}

func (f *fakeProvisioner) Name() string { return "fake" }

func (f *fakeProvisioner) CreateRoute(_ context.Context, address string) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created = append(f.created, address)
	return "route-" + address, nil
}

func (f *fakeProvisioner) DisableRoute(_ context.Context, routeRef string) error {
	f.disabled = append(f.disabled, routeRef)
	return f.disableErr
}

type fakeBlobStore struct {
	mu     sync.Mutex
	putErr error
	blobs  map[string][]byte
	metas  map[string]blob.Metadata
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{
		blobs: make(map[string][]byte),
		metas: make(map[string]blob.Metadata),
	}
}

func (f *fakeBlobStore) Put(_ context.Context, key string, data []byte, meta blob.Metadata) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blobs[key] = data
	f.metas[key] = meta
	return nil
}

func (f *fakeBlobStore) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.blobs[key]
	if !ok {
		return nil, fmt.Errorf("blob %s not found", key)
	}
	return data, nil
}

type fakeSender struct {
	failures int // 前 N 次调用返回错误
	attempts int
	sent     []telegram.SendMessageRequest
}

func (f *fakeSender) SendMessage(_ context.Context, req telegram.SendMessageRequest) error {
	f.attempts++
	if f.attempts <= f.failures {
		return errors.New("telegram unavailable")
	}
	f.sent = append(f.sent, req)
	return nil
}

type fakeSummarizer struct {
	out   string
	err   error
	calls int
}

func (f *fakeSummarizer) Summarize(_ context.Context, _, _ string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.out, nil
}

type fakeSource struct {
	messages []mailbox.RawMessage
	fetchErr error
	acked    []string
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) FetchUnread(_ context.Context) ([]mailbox.RawMessage, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.messages, nil
}

func (f *fakeSource) Acknowledge(_ context.Context, uid string) error {
	f.acked = append(f.acked, uid)
	return nil
}

// flakyStore 包装真实存储，按需让单个写入方法失败。
type flakyStore struct {
	storage.Store
	saveRecordErr error
}

func (f *flakyStore) SaveRecord(record *domain.MessageRecord) error {
	if f.saveRecordErr != nil {
		return f.saveRecordErr
	}
	return f.Store.SaveRecord(record)
}

func rawEmail(to, messageID, subject, body string) []byte {
	raw := "From: Sender <sender@elsewhere.com>\r\n" +
		"To: " + to + "\r\n"
	if messageID != "" {
		raw += "Message-ID: <" + messageID + ">\r\n"
	}
	raw += "Subject: " + subject + "\r\n" +
		"Date: Mon, 24 Aug 2026 10:00:00 +0000\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		body + "\r\n"
	return []byte(raw)
}
