package mailbox

import (
	"context"
	"fmt"
	"strconv"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// IMAPOptions IMAP 邮件源配置。
type IMAPOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	Mailbox  string
	TLS      bool
}

// IMAPSource 通过 IMAP 轮询一个收件箱。
// 每次调用都建立新连接，避免在轮询间隔内维护长连接
// 被服务端闲置断开。取信使用 BODY.PEEK，不改变 \Seen 标记；
// Acknowledge 才会把邮件标记为已读。
type IMAPSource struct {
	opts IMAPOptions
}

// NewIMAPSource 创建 IMAP 邮件源。
func NewIMAPSource(opts IMAPOptions) *IMAPSource {
	if opts.Mailbox == "" {
		opts.Mailbox = "INBOX"
	}
	return &IMAPSource{opts: opts}
}

func (s *IMAPSource) Name() string {
	return "imap"
}

// connect 建立连接、认证并选中目标邮箱。
func (s *IMAPSource) connect() (*imapclient.Client, error) {
	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)

	var client *imapclient.Client
	var err error
	if s.opts.TLS {
		client, err = imapclient.DialTLS(addr, nil)
	} else {
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("connect imap %s: %w", addr, err)
	}

	if err := client.Login(s.opts.Username, s.opts.Password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, fmt.Errorf("imap login %s: %w", s.opts.Username, err)
	}

	if _, err := client.Select(s.opts.Mailbox, nil).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, fmt.Errorf("select mailbox %s: %w", s.opts.Mailbox, err)
	}

	return client, nil
}

// FetchUnread 返回收件箱中所有未读邮件的完整原文。
func (s *IMAPSource) FetchUnread(_ context.Context) ([]RawMessage, error) {
	client, err := s.connect()
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()

	criteria := &imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	}
	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("search unseen: %w", err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchOpts := &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	fetchCmd := client.Fetch(imap.UIDSetNum(uids...), fetchOpts)
	defer fetchCmd.Close()

	var messages []RawMessage
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		buf, err := msg.Collect()
		if err != nil {
			continue
		}

		raw := buf.FindBodySection(bodySection)
		if raw == nil {
			continue
		}

		messages = append(messages, RawMessage{
			UID: strconv.FormatUint(uint64(buf.UID), 10),
			Raw: raw,
		})
	}

	if err := fetchCmd.Close(); err != nil {
		return messages, fmt.Errorf("fetch unseen: %w", err)
	}
	return messages, nil
}

// Acknowledge 给邮件加上 \Seen 标记，后续轮询不再取到它。
func (s *IMAPSource) Acknowledge(_ context.Context, uid string) error {
	numeric, err := strconv.ParseUint(uid, 10, 32)
	if err != nil {
		return fmt.Errorf("invalid imap uid %q: %w", uid, err)
	}

	client, err := s.connect()
	if err != nil {
		return err
	}
	defer func() { _ = client.Logout().Wait() }()

	storeCmd := client.Store(imap.UIDSetNum(imap.UID(numeric)), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagSeen},
	}, nil)

	if err := storeCmd.Close(); err != nil {
		return fmt.Errorf("mark seen uid %s: %w", uid, err)
	}
	return nil
}
