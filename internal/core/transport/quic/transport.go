// Package quic 实现生产 QUIC 传输
//
// 监听与拨号共享同一个 UDP socket。连接建立后的第一条双向流承载
// 问候交换：发起方送上与 TLS 身份绑定的 {NodeID, ConnectionID}，
// 接受方核实、登记、应答。问候完成前连接不对上层可见。
package quic

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"go.uber.org/multierr"

	"github.com/dep2p/go-fabric/internal/core/security"
	"github.com/dep2p/go-fabric/internal/core/wire"
	"github.com/dep2p/go-fabric/pkg/interfaces"
	"github.com/dep2p/go-fabric/pkg/lib/log"
	"github.com/dep2p/go-fabric/pkg/types"
)

var logger = log.Logger("transport/quic")

// 未显式配置时的缺省参数
const (
	defaultDialTimeout      = 10 * time.Second
	defaultHelloTimeout     = 10 * time.Second
	defaultMaxIdleTimeout   = 30 * time.Second
	defaultKeepAlivePeriod  = 15 * time.Second
	defaultMaxStreams       = 1024
	defaultSessionCacheSize = 128
)

// Options QUIC 传输的构造参数
type Options struct {
	// Local 本节点身份
	Local types.NodeID

	// Security TLS 配置提供者
	Security interfaces.SecurityContext

	// DialTimeout 拨号总超时（含 TLS 握手与问候往返）；零值取缺省
	DialTimeout time.Duration

	// HelloTimeout 入站问候交换的时限；零值取缺省
	HelloTimeout time.Duration

	// MaxIdleTimeout 连接最大空闲时间；零值取缺省
	MaxIdleTimeout time.Duration

	// KeepAlivePeriod KeepAlive 间隔；零值取缺省
	KeepAlivePeriod time.Duration

	// MaxStreams 单连接并发双向流上限；零值取缺省
	MaxStreams int64

	// SessionCacheSize TLS 票据缓存容量；负值禁用缓存，零值取缺省
	SessionCacheSize int
}

// ============================================================================
//                          Transport - QUIC 传输
// ============================================================================

// Transport QUIC 传输
type Transport struct {
	local    types.NodeID
	sec      interfaces.SecurityContext
	book     *AddressBook
	arrivals *arrivalTable

	dialTimeout  time.Duration
	helloTimeout time.Duration
	quicConf     *quic.Config
	sessions     *sessionCache

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	lookup   interfaces.PeerLookup
	udpConn  *net.UDPConn
	qt       *quic.Transport
	listener *quic.Listener
}

var _ interfaces.Transport = (*Transport)(nil)

// New 创建 QUIC 传输；尚未绑定 socket
func New(opts Options) (*Transport, error) {
	if opts.Local.IsEmpty() {
		return nil, errors.New("本节点身份未设置")
	}
	if opts.Security == nil {
		return nil, errors.New("安全上下文未设置")
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.HelloTimeout == 0 {
		opts.HelloTimeout = defaultHelloTimeout
	}
	if opts.MaxIdleTimeout == 0 {
		opts.MaxIdleTimeout = defaultMaxIdleTimeout
	}
	if opts.KeepAlivePeriod == 0 {
		opts.KeepAlivePeriod = defaultKeepAlivePeriod
	}
	if opts.MaxStreams == 0 {
		opts.MaxStreams = defaultMaxStreams
	}
	if opts.SessionCacheSize == 0 {
		opts.SessionCacheSize = defaultSessionCacheSize
	}

	var sessions *sessionCache
	if opts.SessionCacheSize > 0 {
		var err error
		sessions, err = newSessionCache(opts.SessionCacheSize)
		if err != nil {
			return nil, fmt.Errorf("会话缓存: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Transport{
		local:        opts.Local,
		sec:          opts.Security,
		book:         NewAddressBook(),
		arrivals:     newArrivalTable(),
		dialTimeout:  opts.DialTimeout,
		helloTimeout: opts.HelloTimeout,
		quicConf: &quic.Config{
			MaxIdleTimeout:        opts.MaxIdleTimeout,
			KeepAlivePeriod:       opts.KeepAlivePeriod,
			MaxIncomingStreams:    opts.MaxStreams,
			MaxIncomingUniStreams: opts.MaxStreams,
			Allow0RTT:             true,
		},
		sessions: sessions,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Book 返回地址簿
func (t *Transport) Book() *AddressBook { return t.book }

// SetLookup 装配对等体定位回调（由注册表提供）
func (t *Transport) SetLookup(fn interfaces.PeerLookup) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lookup = fn
}

func (t *Transport) getLookup() interfaces.PeerLookup {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lookup
}

// LocalAddr 返回 socket 的实际绑定地址；尚未绑定时为 nil
func (t *Transport) LocalAddr() *net.UDPAddr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.udpConn == nil {
		return nil
	}
	return t.udpConn.LocalAddr().(*net.UDPAddr)
}

// ensureSocketLocked 绑定共享 UDP socket；已绑定时复用
func (t *Transport) ensureSocketLocked(addr string) error {
	if t.qt != nil {
		return nil
	}
	udpAddr := &net.UDPAddr{}
	if addr != "" {
		resolved, err := net.ResolveUDPAddr("udp", addr)
		if err != nil {
			return fmt.Errorf("解析监听地址 %q: %w", addr, err)
		}
		udpAddr = resolved
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("绑定 UDP: %w", err)
	}
	t.udpConn = conn
	t.qt = &quic.Transport{Conn: conn}
	return nil
}

// Listen 在 addr 上开始接受入站连接
//
// 与后续 Dial 共享同一个 socket。addr 为空串时绑定随机端口。
func (t *Transport) Listen(addr string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTransportClosed
	}
	if t.listener != nil {
		return errors.New("传输已在监听")
	}
	if err := t.ensureSocketLocked(addr); err != nil {
		return err
	}
	serverTLS, err := t.sec.ServerTLS()
	if err != nil {
		return err
	}
	ln, err := t.qt.Listen(serverTLS, t.quicConf)
	if err != nil {
		return fmt.Errorf("监听: %w", err)
	}
	t.listener = ln
	t.wg.Add(1)
	go t.acceptLoop(ln)
	logger.Info("QUIC 传输监听", "addr", t.udpConn.LocalAddr())
	return nil
}

// Dial 携带新铸造的 ConnectionID 向 remote 拨出连接
func (t *Transport) Dial(ctx context.Context, remote types.NodeID, connID types.ConnectionID) (interfaces.Connection, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrTransportClosed
	}
	if err := t.ensureSocketLocked(""); err != nil {
		t.mu.Unlock()
		return nil, err
	}
	qt := t.qt
	t.mu.Unlock()

	addr, err := t.book.Resolve(remote)
	if err != nil {
		return nil, err
	}

	tlsConf, err := t.sec.ClientTLS()
	if err != nil {
		return nil, err
	}
	if t.sessions != nil {
		tlsConf.ClientSessionCache = t.sessions
	}

	if t.dialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.dialTimeout)
		defer cancel()
	}

	qconn, err := qt.Dial(ctx, addr, tlsConf, t.quicConf)
	if err != nil {
		return nil, fmt.Errorf("拨号 %s: %w", remote.ShortString(), err)
	}

	got, err := remoteNodeOf(qconn)
	if err != nil {
		_ = qconn.CloseWithError(codeIdentity, "bad certificate")
		return nil, err
	}
	if !got.Equal(remote) {
		_ = qconn.CloseWithError(codeIdentity, "node mismatch")
		return nil, fmt.Errorf("%w: 期望 %s 实为 %s",
			ErrNodeMismatch, remote.ShortString(), got.ShortString())
	}

	if err := t.sendHello(ctx, qconn, connID); err != nil {
		_ = qconn.CloseWithError(codeHello, "hello failed")
		return nil, err
	}

	logger.Debug("连接拨出",
		"node", remote.ShortString(), "conn", connID.ShortString(), "addr", addr)
	return newConn(qconn, t.local, remote, connID), nil
}

// sendHello 在新连接上完成发起侧问候
func (t *Transport) sendHello(ctx context.Context, qconn quic.Connection, connID types.ConnectionID) error {
	qs, err := qconn.OpenStreamSync(ctx)
	if err != nil {
		return err
	}
	defer qs.Close()
	if dl, ok := ctx.Deadline(); ok {
		_ = qs.SetReadDeadline(dl)
	}

	if err := wire.WriteMsg(qs, wire.NewHello(t.local, connID)); err != nil {
		return fmt.Errorf("问候写入: %w", err)
	}
	var ack wire.Ack
	if err := wire.ReadMsg(qs, &ack); err != nil {
		return fmt.Errorf("问候应答: %w", err)
	}
	if !ack.OK {
		return fmt.Errorf("%w: %s", ErrHelloRejected, ack.Error)
	}
	return nil
}

// Accept 认领标识为 connID 的已到达入站连接
func (t *Transport) Accept(ctx context.Context, connID types.ConnectionID) (interfaces.Connection, error) {
	c, err := t.arrivals.claim(ctx, connID)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// acceptLoop 接受入站 QUIC 连接
func (t *Transport) acceptLoop(ln *quic.Listener) {
	defer t.wg.Done()
	for {
		qconn, err := ln.Accept(t.ctx)
		if err != nil {
			return
		}
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			t.handleInbound(qconn)
		}()
	}
}

// handleInbound 完成一条入站连接的问候、登记与应答
func (t *Transport) handleInbound(qconn quic.Connection) {
	remote, err := remoteNodeOf(qconn)
	if err != nil {
		logger.Warn("入站连接证书无效", "addr", qconn.RemoteAddr(), "err", err)
		_ = qconn.CloseWithError(codeIdentity, "bad certificate")
		return
	}

	ctx, cancel := context.WithTimeout(t.ctx, t.helloTimeout)
	defer cancel()

	qs, err := qconn.AcceptStream(ctx)
	if err != nil {
		_ = qconn.CloseWithError(codeHello, "hello timeout")
		return
	}
	defer qs.Close()
	if dl, ok := ctx.Deadline(); ok {
		_ = qs.SetReadDeadline(dl)
	}

	var hello wire.Hello
	if err := wire.ReadMsg(qs, &hello); err != nil {
		logger.Debug("问候读取失败", "addr", qconn.RemoteAddr(), "err", err)
		_ = qconn.CloseWithError(codeHello, "bad hello")
		return
	}
	node, nerr := hello.NodeID()
	connID, cerr := hello.ConnectionID()
	if nerr != nil || cerr != nil || !node.Equal(remote) {
		t.reject(qs, qconn, "问候身份与证书不符", codeIdentity)
		return
	}
	if remote.Equal(t.local) {
		t.reject(qs, qconn, "回环连接", codeIdentity)
		return
	}

	lookup := t.getLookup()
	if lookup == nil {
		t.reject(qs, qconn, ErrNoLookup.Error(), codeHello)
		return
	}

	conn := newConn(qconn, t.local, remote, connID)
	if err := t.arrivals.park(connID, conn); err != nil {
		t.reject(qs, qconn, err.Error(), codeHello)
		return
	}

	// 定位回调创建接受方对等体，其间工厂经 Accept 认领停驻的连接
	if _, err := lookup(ctx, connID, types.PacketInitiation, remote); err != nil {
		logger.Warn("入站连接登记失败",
			"node", remote.ShortString(), "conn", connID.ShortString(), "err", err)
		_ = wire.WriteMsg(qs, wire.Ack{OK: false, Error: err.Error()})
		if c := t.arrivals.unpark(connID); c != nil {
			_ = c.Close()
		} else {
			_ = qconn.CloseWithError(codeHello, "lookup failed")
		}
		return
	}

	_ = wire.WriteMsg(qs, wire.Ack{OK: true})
	logger.Info("连接到达",
		"node", remote.ShortString(), "conn", connID.ShortString(), "addr", qconn.RemoteAddr())
}

// reject 拒绝入站连接：尽力送出原因后关闭
func (t *Transport) reject(qs quic.Stream, qconn quic.Connection, reason string, code quic.ApplicationErrorCode) {
	_ = wire.WriteMsg(qs, wire.Ack{OK: false, Error: reason})
	_ = qconn.CloseWithError(code, reason)
	logger.Debug("入站连接被拒", "addr", qconn.RemoteAddr(), "reason", reason)
}

// Close 关闭传输及其上所有连接
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	ln := t.listener
	qt := t.qt
	udp := t.udpConn
	t.listener, t.qt, t.udpConn = nil, nil, nil
	t.mu.Unlock()

	t.cancel()
	for _, c := range t.arrivals.close() {
		_ = c.Close()
	}

	var errs error
	if ln != nil {
		errs = multierr.Append(errs, ln.Close())
	}
	if qt != nil {
		errs = multierr.Append(errs, qt.Close())
	}
	if udp != nil {
		if err := udp.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = multierr.Append(errs, err)
		}
	}
	t.wg.Wait()
	return errs
}

// remoteNodeOf 从连接的 TLS 状态派生对端身份
func remoteNodeOf(qc quic.Connection) (types.NodeID, error) {
	certs := qc.ConnectionState().TLS.PeerCertificates
	if len(certs) == 0 {
		return types.NodeID{}, fmt.Errorf("%w: 对端未出示证书", security.ErrBadPeerCertificate)
	}
	return security.NodeIDFromCert(certs[0])
}
