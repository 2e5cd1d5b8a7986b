// Package sipphone is the agent's local SIP endpoint: an auto-answering UAS
// that picks up the leg the provider routes to it and holds the dialog until
// either side hangs up.
package sipphone

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
)

// Config controls the phone's listening endpoint.
type Config struct {
	// ListenIP is the local address to bind, reachable by the provider.
	ListenIP string
	// ListenPort is the local SIP port.
	ListenPort int
	// Transport is udp or tcp.
	Transport string
	// Username is the user part announced in Contact headers.
	Username string
}

// dialog is the established call, kept for sending an in-dialog BYE.
type dialog struct {
	callID     string
	localTag   string
	remoteFrom *sip.FromHeader
	localTo    *sip.ToHeader
	remoteURI  sip.Uri
	remoteAddr string
	cseq       uint32
}

// Phone is a single-line SIP endpoint. At most one call is up at a time;
// the accept callback decides whether an INVITE is answered at all.
type Phone struct {
	cfg    Config
	ua     *sipgo.UserAgent
	srv    *sipgo.Server
	client *sipgo.Client
	logger *slog.Logger

	mu     sync.Mutex
	accept func(from string) bool
	call   *dialog
}

// New creates the phone but does not start listening; call Start.
func New(cfg Config, logger *slog.Logger) (*Phone, error) {
	if cfg.Transport == "" {
		cfg.Transport = "udp"
	}

	ua, err := sipgo.NewUA(
		sipgo.WithUserAgent("CallBridgeAgent"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating sip user agent: %w", err)
	}

	srv, err := sipgo.NewServer(ua)
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("creating sip server: %w", err)
	}

	client, err := sipgo.NewClient(ua,
		sipgo.WithClientHostname(cfg.ListenIP),
		sipgo.WithClientPort(cfg.ListenPort),
	)
	if err != nil {
		srv.Close()
		ua.Close()
		return nil, fmt.Errorf("creating sip client: %w", err)
	}

	p := &Phone{
		cfg:    cfg,
		ua:     ua,
		srv:    srv,
		client: client,
		logger: logger.With("subsystem", "sipphone"),
	}

	srv.OnInvite(p.handleInvite)
	srv.OnAck(p.handleAck)
	srv.OnBye(p.handleBye)
	srv.OnCancel(p.handleCancel)
	srv.OnOptions(p.handleOptions)

	return p, nil
}

// OnIncomingCall registers the gate for inbound INVITEs.
func (p *Phone) OnIncomingCall(fn func(from string) bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accept = fn
}

// Start listens for SIP traffic until the context is cancelled.
func (p *Phone) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", p.cfg.ListenIP, p.cfg.ListenPort)
	p.logger.Info("sip listener starting", "addr", addr, "transport", p.cfg.Transport)
	return p.srv.ListenAndServe(ctx, p.cfg.Transport, addr)
}

// Close shuts down the SIP stack.
func (p *Phone) Close() error {
	p.srv.Close()
	return p.ua.Close()
}

// handleInvite answers or rejects an inbound call based on the registered
// accept callback.
func (p *Phone) handleInvite(req *sip.Request, tx sip.ServerTransaction) {
	from := req.From()
	fromUser := ""
	if from != nil {
		fromUser = from.Address.String()
	}

	trying := sip.NewResponseFromRequest(req, 100, "Trying", nil)
	if err := tx.Respond(trying); err != nil {
		p.logger.Error("responding 100 trying", "error", err)
		return
	}

	p.mu.Lock()
	accept := p.accept
	busy := p.call != nil
	p.mu.Unlock()

	if busy || accept == nil || !accept(fromUser) {
		reject := sip.NewResponseFromRequest(req, 486, "Busy Here", nil)
		if err := tx.Respond(reject); err != nil {
			p.logger.Error("responding 486", "error", err)
		}
		return
	}

	localTag := sip.GenerateTagN(8)
	body := p.answerSDP()

	ok := sip.NewResponseFromRequest(req, 200, "OK", []byte(body))
	if to := ok.To(); to != nil {
		if to.Params == nil {
			to.Params = sip.NewParams()
		}
		to.Params.Add("tag", localTag)
	}
	contact := sip.ContactHeader{
		Address: sip.Uri{
			Scheme: "sip",
			User:   p.cfg.Username,
			Host:   p.cfg.ListenIP,
			Port:   p.cfg.ListenPort,
		},
	}
	ok.AppendHeader(&contact)
	contentType := sip.ContentTypeHeader("application/sdp")
	ok.AppendHeader(&contentType)

	if err := tx.Respond(ok); err != nil {
		p.logger.Error("responding 200 ok", "error", err)
		return
	}

	remoteURI := from.Address
	if ct := req.Contact(); ct != nil {
		remoteURI = ct.Address
	}

	p.mu.Lock()
	p.call = &dialog{
		callID:     req.CallID().Value(),
		localTag:   localTag,
		remoteFrom: from,
		localTo:    ok.To(),
		remoteURI:  remoteURI,
		remoteAddr: req.Source(),
		cseq:       1,
	}
	p.mu.Unlock()

	p.logger.Info("call answered", "from", fromUser, "call_id", req.CallID().Value())
}

func (p *Phone) handleAck(req *sip.Request, tx sip.ServerTransaction) {
	p.logger.Debug("ack received", "call_id", req.CallID().Value())
}

// handleBye is the remote side ending the call.
func (p *Phone) handleBye(req *sip.Request, tx sip.ServerTransaction) {
	res := sip.NewResponseFromRequest(req, 200, "OK", nil)
	if err := tx.Respond(res); err != nil {
		p.logger.Error("responding to bye", "error", err)
	}

	p.mu.Lock()
	if p.call != nil && p.call.callID == req.CallID().Value() {
		p.call = nil
	}
	p.mu.Unlock()

	p.logger.Info("remote hangup", "call_id", req.CallID().Value())
}

func (p *Phone) handleCancel(req *sip.Request, tx sip.ServerTransaction) {
	res := sip.NewResponseFromRequest(req, 200, "OK", nil)
	if err := tx.Respond(res); err != nil {
		p.logger.Error("responding to cancel", "error", err)
	}
}

func (p *Phone) handleOptions(req *sip.Request, tx sip.ServerTransaction) {
	res := sip.NewResponseFromRequest(req, 200, "OK", nil)
	res.AppendHeader(sip.NewHeader("Allow", "INVITE, ACK, CANCEL, BYE, OPTIONS"))
	if err := tx.Respond(res); err != nil {
		p.logger.Error("responding to options", "error", err)
	}
}

// Hangup sends an in-dialog BYE for the established call.
func (p *Phone) Hangup() error {
	p.mu.Lock()
	d := p.call
	p.call = nil
	p.mu.Unlock()

	if d == nil {
		return nil
	}

	bye := sip.NewRequest(sip.BYE, d.remoteURI)
	bye.SetDestination(d.remoteAddr)

	// From/To are swapped relative to the INVITE: we were the UAS.
	from := sip.FromHeader{
		Address: d.localTo.Address,
		Params:  sip.NewParams(),
	}
	from.Params.Add("tag", d.localTag)
	bye.AppendHeader(&from)

	to := sip.ToHeader{
		Address: d.remoteFrom.Address,
		Params:  sip.NewParams(),
	}
	if tag, ok := d.remoteFrom.Params.Get("tag"); ok {
		to.Params.Add("tag", tag)
	}
	bye.AppendHeader(&to)

	callID := sip.CallIDHeader(d.callID)
	bye.AppendHeader(&callID)

	cseq := sip.CSeqHeader{SeqNo: d.cseq + 1, MethodName: sip.BYE}
	bye.AppendHeader(&cseq)

	maxFwd := sip.MaxForwardsHeader(70)
	bye.AppendHeader(&maxFwd)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := p.client.TransactionRequest(ctx, bye); err != nil {
		return fmt.Errorf("sending bye: %w", err)
	}

	p.logger.Info("local hangup sent", "call_id", d.callID)
	return nil
}

// answerSDP is a minimal audio answer. The provider bridges media between
// the legs, so the phone only needs to offer a standard G.711 endpoint.
func (p *Phone) answerSDP() string {
	now := time.Now().Unix()
	return fmt.Sprintf(`v=0
o=- %d %d IN IP4 %s
s=CallBridgeAgent
c=IN IP4 %s
t=0 0
m=audio 10000 RTP/AVP 0 8 101
a=rtpmap:0 PCMU/8000
a=rtpmap:8 PCMA/8000
a=rtpmap:101 telephone-event/8000
a=fmtp:101 0-16
a=sendrecv
a=ptime:20
`, now, now, p.cfg.ListenIP, p.cfg.ListenIP)
}
