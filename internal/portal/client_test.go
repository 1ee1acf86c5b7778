package portal

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestClient(srv *httptest.Server) *Client {
	return New(Config{BaseURL: srv.URL}, nil)
}

func TestLogin_PlainAuthentication(t *testing.T) {
	var sawSeedCookie bool
	mux := http.NewServeMux()
	mux.HandleFunc("/clockin/login.aspx", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			http.SetCookie(w, &http.Cookie{Name: "ASP.NET_SessionId", Value: "seed"})
			return
		}
		if c, err := r.Cookie("ASP.NET_SessionId"); err == nil && c.Value == "seed" {
			sawSeedCookie = true
		}
		if r.FormValue("username") != "D1321250" || r.FormValue("password") != "pw" {
			w.WriteHeader(http.StatusOK)
			return
		}
		if r.FormValue("page") != "cls" || r.FormValue("appversion") != "qr" {
			t.Errorf("missing fixed form fields: %v", r.Form)
		}
		if ua := r.Header.Get("User-Agent"); !strings.Contains(ua, "Android") {
			t.Errorf("expected mobile user agent, got %q", ua)
		}
		if r.Header.Get("X-Requested-With") != "com.fcuapp.app" {
			t.Errorf("missing requested-with marker")
		}
		w.Header().Set("Location", "/clockin/main.aspx")
		w.WriteHeader(http.StatusFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(srv)
	sess, landing, err := c.Login(context.Background(), "D1321250", "pw", Token{})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if sess == nil {
		t.Fatalf("expected a session")
	}
	if landing != nil {
		t.Fatalf("plain login must not follow the redirect")
	}
	if !sawSeedCookie {
		t.Fatalf("seed cookie was not carried into the credential POST")
	}
}

func TestLogin_BadCredentials(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/clockin/login.aspx", func(w http.ResponseWriter, r *http.Request) {
		// 200 on POST is the portal's way of saying "wrong password".
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, _, err := newTestClient(srv).Login(context.Background(), "D1321250", "wrong", Token{})
	if !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("expected ErrBadCredentials, got %v", err)
	}
}

func TestLogin_UnexpectedStatusIsTransient(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/clockin/login.aspx", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusBadGateway)
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, _, err := newTestClient(srv).Login(context.Background(), "u", "p", Token{})
	var transient *TransientError
	if !errors.As(err, &transient) {
		t.Fatalf("expected TransientError, got %v", err)
	}
	if errors.Is(err, ErrBadCredentials) {
		t.Fatalf("a 502 must not be classified as bad credentials")
	}
}

func TestLogin_ConnectionFaultIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // fault on purpose

	_, _, err := newTestClient(srv).Login(context.Background(), "u", "p", Token{})
	var transient *TransientError
	if !errors.As(err, &transient) {
		t.Fatalf("expected TransientError, got %v", err)
	}
}

func TestLogin_TokenFlowLandsOnce(t *testing.T) {
	var landings int
	mux := http.NewServeMux()
	mux.HandleFunc("/clockin/login.aspx", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			return
		}
		if r.FormValue("major") != "12" || r.FormValue("minor") != "34" {
			t.Errorf("token sub-fields not submitted: %v", r.Form)
		}
		w.Header().Set("Location", "/clockin/main.aspx")
		w.WriteHeader(http.StatusFound)
	})
	mux.HandleFunc("/clockin/main.aspx", func(w http.ResponseWriter, r *http.Request) {
		landings++
		w.Write([]byte("<html>簽到完成</html>"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	tok := ParseToken("https://fcu.edu/checkin?major=12&minor=34")
	sess, landing, err := newTestClient(srv).Login(context.Background(), "u", "p", tok)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if sess == nil {
		t.Fatalf("expected a session")
	}
	if !strings.Contains(string(landing), "簽到完成") {
		t.Fatalf("expected the landing document, got %q", landing)
	}
	if landings != 1 {
		t.Fatalf("redirect must be followed exactly once, got %d", landings)
	}
}

func TestProbeAndRecords(t *testing.T) {
	authorized := true
	mux := http.NewServeMux()
	mux.HandleFunc("/clockin/login.aspx", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.Header().Set("Location", "/clockin/main.aspx")
			w.WriteHeader(http.StatusFound)
		}
	})
	mux.HandleFunc("/clockin/ClassClockinRecord.aspx", func(w http.ResponseWriter, r *http.Request) {
		if !authorized {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Write([]byte("<html>records</html>"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(srv)
	sess, _, err := c.Login(context.Background(), "u", "p", Token{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if !c.Probe(context.Background(), sess) {
		t.Fatalf("live session must probe true")
	}
	doc, err := c.Records(context.Background(), sess)
	if err != nil || !strings.Contains(string(doc), "records") {
		t.Fatalf("records fetch failed: %v %q", err, doc)
	}

	authorized = false
	if c.Probe(context.Background(), sess) {
		t.Fatalf("a non-200 probe answer must report invalid")
	}
}

func TestClassifyLanding(t *testing.T) {
	if err := ClassifyLanding([]byte("<html>簽到完成</html>")); err != nil {
		t.Fatalf("clean landing must not be rejected: %v", err)
	}
	if err := ClassifyLanding(nil); err != nil {
		t.Fatalf("missing landing must not be rejected: %v", err)
	}

	err := ClassifyLanding([]byte("<html>QR Code 已過期</html>"))
	var rej *BusinessRejection
	if !errors.As(err, &rej) {
		t.Fatalf("expected BusinessRejection, got %v", err)
	}
	if rej.Phrase != "已過期" {
		t.Fatalf("expected the matched phrase, got %q", rej.Phrase)
	}

	if err := ClassifyLanding([]byte("<html>INVALID CODE</html>")); err == nil {
		t.Fatalf("phrase match must be case-insensitive")
	}
}
