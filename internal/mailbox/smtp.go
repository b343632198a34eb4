package mailbox

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxInboundMessageSize 限制单封入站邮件的大小。
const maxInboundMessageSize = 10 << 20 // 10MB

// SMTPSource 直接在本进程内接收 SMTP 投递，
// 把收到的邮件缓存在内存队列里等待轮询方取走。
// 它同时实现 Source 和 go-smtp 的 Backend 接口。
//
// 这是一个只收不发的 SMTP 端点：Rcpt 只接受
// 本服务托管域名下的地址，其余一律以 550 拒绝，
// 避免被用作开放中继。
type SMTPSource struct {
	domain string
	log    *zap.Logger

	mu    sync.Mutex
	queue []RawMessage
}

// NewSMTPSource 创建进程内 SMTP 邮件源。
func NewSMTPSource(domain string, log *zap.Logger) *SMTPSource {
	return &SMTPSource{
		domain: strings.ToLower(strings.TrimSpace(domain)),
		log:    log,
	}
}

func (s *SMTPSource) Name() string {
	return "smtp"
}

// FetchUnread 取走当前队列中的全部邮件。
func (s *SMTPSource) FetchUnread(_ context.Context) ([]RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		return nil, nil
	}
	messages := s.queue
	s.queue = nil
	return messages, nil
}

// Acknowledge 对 SMTP 源是空操作：
// 邮件在 DATA 阶段就已被接收方接管，没有可回退的源状态。
func (s *SMTPSource) Acknowledge(_ context.Context, _ string) error {
	return nil
}

// enqueue 把一封完整邮件放入待处理队列。
func (s *SMTPSource) enqueue(raw []byte) string {
	uid := uuid.NewString()
	s.mu.Lock()
	s.queue = append(s.queue, RawMessage{UID: uid, Raw: raw})
	s.mu.Unlock()
	return uid
}

// NewSession 实现 go-smtp 的 Backend 接口。
func (s *SMTPSource) NewSession(_ *gosmtp.Conn) (gosmtp.Session, error) {
	return &smtpSession{source: s}, nil
}

// NewSMTPServer 构造监听 bindAddr 的接收服务器。
func NewSMTPServer(source *SMTPSource, bindAddr string) *gosmtp.Server {
	server := gosmtp.NewServer(source)
	server.Addr = bindAddr
	server.Domain = source.domain
	server.ReadTimeout = 30 * time.Second
	server.WriteTimeout = 30 * time.Second
	server.MaxMessageBytes = maxInboundMessageSize
	server.MaxRecipients = 16
	server.AllowInsecureAuth = true
	return server
}

type smtpSession struct {
	source     *SMTPSource
	from       string
	recipients []string
}

func (s *smtpSession) Mail(from string, _ *gosmtp.MailOptions) error {
	s.from = from
	return nil
}

// Rcpt 只接受托管域名下的收件地址。
func (s *smtpSession) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	addr := normalizeAddress(to)

	parts := strings.Split(addr, "@")
	if len(parts) != 2 {
		return &gosmtp.SMTPError{
			Code:         501,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 3},
			Message:      "invalid recipient address",
		}
	}

	if !strings.EqualFold(parts[1], s.source.domain) {
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 7, 1},
			Message:      "relay access denied - domain not managed by this server",
		}
	}

	s.recipients = append(s.recipients, addr)
	return nil
}

// Data 接收邮件原文并入队。
// 为每个收件人追加一条 Envelope-To 头，
// 让后续的别名解析能看到信封收件人。
func (s *smtpSession) Data(r io.Reader) error {
	raw, err := io.ReadAll(io.LimitReader(r, maxInboundMessageSize))
	if err != nil {
		return err
	}

	for _, rcpt := range s.recipients {
		stamped := prependHeader(raw, "Envelope-To", rcpt)
		uid := s.source.enqueue(stamped)
		s.source.log.Info("smtp message queued",
			zap.String("uid", uid),
			zap.String("from", s.from),
			zap.String("recipient", rcpt),
			zap.Int("bytes", len(stamped)))
	}
	return nil
}

func (s *smtpSession) Reset() {
	s.from = ""
	s.recipients = nil
}

func (s *smtpSession) Logout() error {
	return nil
}

// prependHeader 在报文头部前插入一条新头字段。
func prependHeader(raw []byte, name, value string) []byte {
	header := fmt.Sprintf("%s: %s\r\n", name, value)
	stamped := make([]byte, 0, len(header)+len(raw))
	stamped = append(stamped, header...)
	return append(stamped, raw...)
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	addr = strings.Trim(addr, "<>")
	return strings.ToLower(addr)
}
