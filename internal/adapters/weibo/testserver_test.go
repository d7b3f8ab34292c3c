package weibo_test

import (
	"net/http"
	"net/http/httptest"
	"sync"

	"emolens/internal/adapters/weibo"
)

// fakeWeibo serves the handshake endpoints and whatever content routes a
// test registers.
type fakeWeibo struct {
	mux    *http.ServeMux
	server *httptest.Server

	mu              sync.Mutex
	genVisitorCalls int
	incarnateCalls  int
	failHandshake   bool
	timeline        http.HandlerFunc
}

func newFakeWeibo() *fakeWeibo {
	f := &fakeWeibo{mux: http.NewServeMux()}

	f.mux.HandleFunc("/visitor/genvisitor", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.genVisitorCalls++
		fail := f.failHandshake
		f.mu.Unlock()

		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`window.gen_callback && gen_callback({"retcode":20000000,"msg":"succ","data":{"tid":"abc+tid/123","new_tid":true}});`))
	})

	f.mux.HandleFunc("/visitor/visitor", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.incarnateCalls++
		f.mu.Unlock()

		http.SetCookie(w, &http.Cookie{Name: "SUB", Value: "fake-sub", Path: "/"})
		w.Write([]byte(`{"retcode":20000000,"msg":"succ"}`))
	})

	f.mux.HandleFunc("/api/config", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "XSRF-TOKEN", Value: "xsrf-abc", Path: "/"})
		w.Write([]byte(`{"ok":1,"data":{"login":false}}`))
	})

	// Timeline stream: empty unless a test installs a handler
	f.mux.HandleFunc("/api/comments/show", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		handler := f.timeline
		f.mu.Unlock()

		if handler != nil {
			handler(w, r)
			return
		}
		w.Write([]byte(`{"ok":1,"data":{"data":[]}}`))
	})

	f.server = httptest.NewServer(f.mux)
	return f
}

func (f *fakeWeibo) close() {
	f.server.Close()
}

func (f *fakeWeibo) setHandshakeFailing(fail bool) {
	f.mu.Lock()
	f.failHandshake = fail
	f.mu.Unlock()
}

func (f *fakeWeibo) handshakes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.genVisitorCalls
}

func (f *fakeWeibo) handle(pattern string, handler http.HandlerFunc) {
	f.mux.HandleFunc(pattern, handler)
}

func (f *fakeWeibo) serveTimeline(handler http.HandlerFunc) {
	f.mu.Lock()
	f.timeline = handler
	f.mu.Unlock()
}

func (f *fakeWeibo) endpoints() weibo.Endpoints {
	base := f.server.URL
	return weibo.Endpoints{
		GenVisitor:   base + "/visitor/genvisitor",
		Incarnate:    base + "/visitor/visitor",
		Config:       base + "/api/config",
		StatusShow:   base + "/statuses/show",
		Comments:     base + "/comments/hotflow",
		CommentsShow: base + "/api/comments/show",
		Referer:      base + "/",
	}
}
