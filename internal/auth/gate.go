package auth

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/gorilla/sessions"

	"github.com/devilmonastery/critterforge/internal/domain/entities"
	"github.com/devilmonastery/critterforge/internal/pkg/apperr"
)

// artifactKey is the session value holding the web SessionArtifact
const artifactKey = "artifact"

// maxMultipartMemory is what ParseMultipartForm keeps in memory before
// spilling file parts to disk.
const maxMultipartMemory = 8 << 20

// Credential is the proof of authentication found on a request. It is
// either a WebCredential or a MobileCredential.
type Credential interface {
	Device() entities.DeviceKind
	isCredential()
}

// WebCredential is a server-side session found through the session cookie
type WebCredential struct {
	SessionID string
	Artifact  entities.SessionArtifact
}

func (WebCredential) Device() entities.DeviceKind { return entities.DeviceWeb }
func (WebCredential) isCredential()               {}

// MobileCredential is a token the client sent with the request. It has not
// been verified yet.
type MobileCredential struct {
	IDToken string
}

func (MobileCredential) Device() entities.DeviceKind { return entities.DeviceMobile }
func (MobileCredential) isCredential()               {}

// SessionStore is the server-side session store the gate and issuer share
type SessionStore interface {
	sessions.Store
	Regenerate(r *http.Request, session *sessions.Session) error
	Destroy(r *http.Request, w http.ResponseWriter, session *sessions.Session) error
}

// Gate classifies requests by the credential they carry
type Gate struct {
	store        SessionStore
	cookieName   string
	maxBodyBytes int64
	log          *slog.Logger
}

// NewGate creates a gate reading sessions named cookieName from store.
// maxBodyBytes bounds how much of a JSON body is read to find an id_token.
func NewGate(store SessionStore, cookieName string, maxBodyBytes int64) *Gate {
	if maxBodyBytes <= 0 {
		maxBodyBytes = 1 << 20
	}
	return &Gate{
		store:        store,
		cookieName:   cookieName,
		maxBodyBytes: maxBodyBytes,
		log:          slog.Default().With(slog.String("component", "access-gate")),
	}
}

// Classify returns the credential a request carries. A server-side session
// holding an access token wins over a body id_token. Requests without
// either are ErrUnauthorized.
//
// Reading the body leaves it usable by the handler: JSON bodies are
// restored, form and multipart bodies are parsed into r.Form and
// r.MultipartForm.
func (g *Gate) Classify(r *http.Request) (Credential, error) {
	if cred, ok := g.webCredential(r); ok {
		return cred, nil
	}

	if token := g.bodyIDToken(r); token != "" {
		return MobileCredential{IDToken: token}, nil
	}
	if token := bearerToken(r); token != "" {
		return MobileCredential{IDToken: token}, nil
	}

	return nil, apperr.New(apperr.ErrUnauthorized, "Not authenticated")
}

// Artifact returns the web session artifact on r, if any
func (g *Gate) Artifact(r *http.Request) (*entities.SessionArtifact, bool) {
	cred, ok := g.webCredential(r)
	if !ok {
		return nil, false
	}
	return &cred.Artifact, true
}

func (g *Gate) webCredential(r *http.Request) (WebCredential, bool) {
	if _, err := r.Cookie(g.cookieName); err != nil {
		return WebCredential{}, false
	}

	session, err := g.store.Get(r, g.cookieName)
	if err != nil {
		g.log.Debug("ignoring unreadable session cookie", slog.String("error", err.Error()))
		return WebCredential{}, false
	}

	artifact, ok := session.Values[artifactKey].(entities.SessionArtifact)
	if !ok || artifact.AccessToken == "" {
		return WebCredential{}, false
	}
	artifact.Device = entities.DeviceWeb
	return WebCredential{SessionID: session.ID, Artifact: artifact}, true
}

func (g *Gate) bodyIDToken(r *http.Request) string {
	if r.Body == nil || r.Body == http.NoBody {
		return ""
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json", "":
		body := r.Body
		data, err := io.ReadAll(io.LimitReader(body, g.maxBodyBytes))
		r.Body = readCloser{io.MultiReader(bytes.NewReader(data), body), body}
		if err != nil || len(data) == 0 {
			return ""
		}
		var payload struct {
			IDToken string `json:"id_token"`
		}
		if err := json.Unmarshal(data, &payload); err != nil {
			return ""
		}
		return strings.TrimSpace(payload.IDToken)

	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return ""
		}
		return strings.TrimSpace(r.PostForm.Get("id_token"))

	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
			return ""
		}
		if values := r.MultipartForm.Value["id_token"]; len(values) > 0 {
			return strings.TrimSpace(values[0])
		}
	}
	return ""
}

// readCloser replays the consumed prefix of a body and closes the original
type readCloser struct {
	io.Reader
	io.Closer
}

func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
