package quip

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cbrunker/quip/crypto"
	"github.com/cbrunker/quip/directory"
	"github.com/cbrunker/quip/file"
	"github.com/cbrunker/quip/friend"
	"github.com/cbrunker/quip/handshake"
	"github.com/cbrunker/quip/messaging"
	"github.com/cbrunker/quip/qerr"
	"github.com/cbrunker/quip/server"
	"github.com/cbrunker/quip/store"
	"github.com/cbrunker/quip/transport"
	"github.com/cbrunker/quip/wire"
)

// certificateLifetime is the validity of generated server certificates.
const certificateLifetime = 365 * 24 * time.Hour

// MessageCallback is called for each message delivered by a friend.
type MessageCallback func(m messaging.Received)

// FileOfferCallback is called when a friend offers a file.
type FileOfferCallback func(in file.Incoming)

// FriendRequestCallback is called for each new incoming friend request.
type FriendRequestCallback func(req store.FriendRequest)

// FriendshipCallback is called when a handshake completes in either role.
type FriendshipCallback func(res handshake.Result)

// AvatarCallback is called when a friend's avatar changes.
type AvatarCallback func(uid string)

// Quip represents a running client and server.
type Quip struct {
	options  *Options
	store    store.Store
	roster   *friend.Roster
	requests *friend.RequestManager
	dir      *directory.Client

	mu           sync.RWMutex
	identity     *crypto.Identity
	manager      *transport.Manager
	server       *server.Server
	serverConfig server.Config
	initiator    *handshake.Initiator
	files        *file.Client
	fileRequests *file.RequestHandler
	messages     *messaging.Client
	running      bool
	cancel       context.CancelFunc
	closer       io.Closer

	pendingMu   sync.Mutex
	pendingAuth []string

	callbackMu            sync.RWMutex
	messageCallback       MessageCallback
	fileOfferCallback     FileOfferCallback
	friendRequestCallback FriendRequestCallback
	friendshipCallback    FriendshipCallback
	avatarCallback        AvatarCallback
}

// New creates a Quip instance over st. When st already holds an account the
// peer components are ready immediately; otherwise call CreateAccount,
// Recover or Login first.
func New(st store.Store, options *Options) (*Quip, error) {
	if options == nil {
		options = NewOptions()
	}
	if options.TimeProvider == nil {
		options.TimeProvider = crypto.DefaultTimeProvider{}
	}

	roster := friend.NewRosterWithTimeProvider(st, options.TimeProvider)
	if err := roster.Load(); err != nil {
		return nil, err
	}
	q := &Quip{
		options:  options,
		store:    st,
		roster:   roster,
		requests: friend.NewRequestManager(st),
	}
	q.requests.SetHandler(q.handleFriendRequest)
	q.dir = directory.NewClient(directory.Config{
		Address:      options.DirectoryAddress,
		Store:        st,
		Roster:       roster,
		Requests:     q.requests,
		Dialer:       options.DirectoryDialer,
		TimeProvider: options.TimeProvider,
	})

	acct, found, err := st.Account()
	if err != nil {
		return nil, err
	}
	if found {
		q.attach(crypto.LoadIdentity(acct.UID, acct.SigningSeed, acct.BoxPrivate))
	}
	return q, nil
}

// Open opens the encrypted store in options.DataDirectory and creates a
// Quip instance over it. Stop closes the store.
func Open(options *Options, passphrase []byte) (*Quip, error) {
	if options == nil {
		options = NewOptions()
	}
	st, err := store.OpenFile(options.DataDirectory, passphrase,
		store.WithRequestExpiry(options.RequestExpiry),
		store.WithFileExpiry(options.FileExpiry),
		store.WithTimeProvider(options.TimeProvider))
	if err != nil {
		return nil, err
	}
	q, err := New(st, options)
	if err != nil {
		st.Close()
		return nil, err
	}
	q.closer = st
	return q, nil
}

// attach builds the peer components for id.
func (q *Quip) attach(id *crypto.Identity) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.identity != nil && q.identity.UID == id.UID {
		return
	}
	opts := q.options

	q.identity = id
	q.manager = transport.NewManager(id, transport.Options{
		Dialer:             opts.PeerDialer,
		TimeProvider:       opts.TimeProvider,
		SessionBoundChains: opts.SessionBoundChains,
	})
	q.initiator = handshake.NewInitiator(q.manager, q.store, q.requests, opts.TCPPort)
	q.files = file.NewClient(q.manager, q.store, file.Options{
		DownloadDir: opts.DownloadDirectory,
		MaxChunk:    opts.MaxChunk,
		Verify:      opts.Verify,
	})
	q.messages = messaging.NewClient(q.manager, q.store)
	q.messages.SetTimeProvider(opts.TimeProvider)

	responder := handshake.NewResponder(id, q.store, q.requests)
	responder.SetAuthHandler(q.handleFriendship)
	q.fileRequests = file.NewRequestHandler(q.store, opts.MaxFileSize)
	q.fileRequests.OnOffer(q.handleFileOffer)
	receiver := messaging.NewReceiveHandler(q.store, opts.TimeProvider)
	receiver.OnMessage(q.handleMessage)
	avatars := messaging.NewAvatarHandler(q.store)
	avatars.OnAvatar(q.handleAvatar)

	router := server.NewRouter()
	router.HandleUnsigned(wire.FriendAccept, responder)
	router.Handle(wire.FileRequest, q.fileRequests)
	router.Handle(wire.FileSend, file.NewSendHandler(q.store, opts.BlockSize))
	router.Handle(wire.MessageSend, receiver)
	router.Handle(wire.AvatarReceive, avatars)

	cfg := server.Config{
		Identity:           id,
		Router:             router,
		Resolver:           server.StoreResolver{Store: q.store},
		IdleTimeout:        opts.IdleTimeout,
		MessageSkew:        opts.MessageSkew,
		SessionBoundChains: opts.SessionBoundChains,
		TimeProvider:       opts.TimeProvider,
	}
	if opts.UPnP {
		cfg.PortMapper = transport.NewPortMapper()
	}
	q.serverConfig = cfg
	q.server = server.New(cfg)

	logrus.WithFields(logrus.Fields{
		"function": "attach",
		"uid":      id.UID,
	}).Debug("Peer components ready")
}

func (q *Quip) components() (*crypto.Identity, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.identity == nil {
		return nil, qerr.ErrNotLoggedIn
	}
	return q.identity, nil
}

// Identity returns the local identity, or nil before an account exists.
func (q *Quip) Identity() *crypto.Identity {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.identity
}

// Directory returns the directory client for operations the facade does
// not wrap, such as profiles and invites.
func (q *Quip) Directory() *directory.Client {
	return q.dir
}

// Store returns the local store.
func (q *Quip) Store() store.Store {
	return q.store
}

// CreateAccount registers a new account with the directory server.
func (q *Quip) CreateAccount(ctx context.Context, alias, invite string) (store.Account, error) {
	acct, err := q.dir.CreateAccount(ctx, alias, invite)
	if err != nil {
		return acct, err
	}
	q.attach(q.dir.Identity())
	return acct, nil
}

// Recover restores an account from a recovery code.
func (q *Quip) Recover(ctx context.Context, code string) (bool, error) {
	_, ok, err := q.dir.Recover(ctx, code)
	if err != nil || !ok {
		return ok, err
	}
	q.attach(q.dir.Identity())
	return true, nil
}

// Login opens a directory session, announces the listening port and
// forwards any queued authorisation tokens.
func (q *Quip) Login(ctx context.Context) error {
	if err := q.dir.Login(ctx, q.options.TCPPort, friend.StatusOnline); err != nil {
		return err
	}
	q.attach(q.dir.Identity())
	if _, err := q.FlushAuthTokens(ctx); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Login",
			"error":    err.Error(),
		}).Warn("Authorisation tokens left queued")
	}
	return nil
}

// Start listens for peers on the configured host and port with TLS.
func (q *Quip) Start(ctx context.Context) error {
	if _, err := q.components(); err != nil {
		return qerr.New("start", "", err)
	}
	cert, err := q.certificate()
	if err != nil {
		return err
	}
	cfg := transport.ServerTLSConfig(cert)
	ln, err := tls.Listen("tcp", net.JoinHostPort(q.options.Host, strconv.Itoa(q.options.TCPPort)), cfg)
	if err != nil {
		return err
	}
	return q.Serve(ctx, ln)
}

func (q *Quip) certificate() (tls.Certificate, error) {
	if q.options.CertFile != "" && q.options.KeyFile != "" {
		return transport.LoadServerCertificate(q.options.CertFile, q.options.KeyFile)
	}
	host := q.options.Host
	if host == "" {
		host = "localhost"
	}
	return transport.SelfSignedCertificate(host, certificateLifetime)
}

// Serve accepts peers on ln in the background until Stop is called.
func (q *Quip) Serve(ctx context.Context, ln net.Listener) error {
	q.mu.Lock()
	if q.identity == nil {
		q.mu.Unlock()
		ln.Close()
		return qerr.New("serve", "", qerr.ErrNotLoggedIn)
	}
	if q.running {
		q.mu.Unlock()
		ln.Close()
		return errors.New("already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.running = true
	// a stopped server stays closed, so every Serve gets a fresh one
	q.server = server.New(q.serverConfig)
	srv := q.server
	q.mu.Unlock()

	go func() {
		if err := srv.Serve(ctx, ln); err != nil && !errors.Is(err, net.ErrClosed) {
			logrus.WithFields(logrus.Fields{
				"function": "Serve",
				"error":    err.Error(),
			}).Error("Peer server stopped")
		}
	}()
	logrus.WithFields(logrus.Fields{
		"function": "Serve",
		"address":  ln.Addr().String(),
	}).Info("Accepting peers")
	return nil
}

// IsRunning reports whether the peer server is accepting connections.
func (q *Quip) IsRunning() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.running
}

// Stop closes the peer server and every connection, and ends the
// directory session.
func (q *Quip) Stop() error {
	q.mu.Lock()
	q.running = false
	cancel := q.cancel
	q.cancel = nil
	srv, manager := q.server, q.manager
	closer := q.closer
	q.closer = nil
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var errs []error
	if srv != nil {
		errs = append(errs, srv.Close())
	}
	if manager != nil {
		errs = append(errs, manager.Shutdown())
	}
	if q.dir.LoggedIn() {
		ctx, cancelLogout := context.WithTimeout(context.Background(), 5*time.Second)
		if _, err := q.dir.Logout(ctx); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Stop",
				"error":    err.Error(),
			}).Warn("Logout failed")
		}
		cancelLogout()
	}
	errs = append(errs, q.dir.Close())
	if closer != nil {
		errs = append(errs, closer.Close())
	}
	return errors.Join(errs...)
}

// OnMessage sets the callback for messages from friends.
func (q *Quip) OnMessage(callback MessageCallback) {
	q.callbackMu.Lock()
	defer q.callbackMu.Unlock()
	q.messageCallback = callback
}

// OnFileOffer sets the callback for file offers.
func (q *Quip) OnFileOffer(callback FileOfferCallback) {
	q.callbackMu.Lock()
	defer q.callbackMu.Unlock()
	q.fileOfferCallback = callback
}

// OnFriendRequest sets the callback for new incoming friend requests.
func (q *Quip) OnFriendRequest(callback FriendRequestCallback) {
	q.callbackMu.Lock()
	defer q.callbackMu.Unlock()
	q.friendRequestCallback = callback
}

// OnFriendship sets the callback for completed handshakes.
func (q *Quip) OnFriendship(callback FriendshipCallback) {
	q.callbackMu.Lock()
	defer q.callbackMu.Unlock()
	q.friendshipCallback = callback
}

// OnAvatar sets the callback for friend avatar updates.
func (q *Quip) OnAvatar(callback AvatarCallback) {
	q.callbackMu.Lock()
	defer q.callbackMu.Unlock()
	q.avatarCallback = callback
}

func (q *Quip) handleMessage(m messaging.Received) {
	q.roster.SetStatus(m.Mask, friend.StatusOnline)
	q.callbackMu.RLock()
	cb := q.messageCallback
	q.callbackMu.RUnlock()
	if cb != nil {
		cb(m)
	}
}

func (q *Quip) handleFileOffer(in file.Incoming) {
	q.callbackMu.RLock()
	cb := q.fileOfferCallback
	q.callbackMu.RUnlock()
	if cb != nil {
		cb(in)
	}
}

func (q *Quip) handleFriendRequest(req store.FriendRequest) {
	q.callbackMu.RLock()
	cb := q.friendRequestCallback
	q.callbackMu.RUnlock()
	if cb != nil {
		cb(req)
	}
}

func (q *Quip) handleAvatar(uid, mask string) {
	q.callbackMu.RLock()
	cb := q.avatarCallback
	q.callbackMu.RUnlock()
	if cb != nil {
		cb(uid)
	}
}

// handleFriendship records a completed handshake from either role.
func (q *Quip) handleFriendship(res handshake.Result) {
	if f, found, err := q.store.Friend(res.Mask); err == nil && found {
		q.roster.Add(f)
	}
	q.queueAuth(res.Auth)

	q.callbackMu.RLock()
	cb := q.friendshipCallback
	q.callbackMu.RUnlock()
	if cb != nil {
		cb(res)
	}
}
