package telegram

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

const testToken = "TEST"

type sentPhoto struct {
	ID      int64
	ChatID  string
	Caption string
	Data    []byte
}

type sentMessage struct {
	ID      int64
	ChatID  string
	Text    string
	ReplyTo int64
}

// fakeAPI is an in-memory Bot API. Message ids advance by idStep so tests
// can check that nothing assumes consecutive ids.
type fakeAPI struct {
	mu        sync.Mutex
	srv       *httptest.Server
	nextID    int64
	idStep    int64
	photos    []sentPhoto
	messages  []sentMessage
	updates   []Update
	files     map[string][]byte
	failPhoto map[int]bool // 1-based sendPhoto call numbers that fail
	polls     int
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	f := &fakeAPI{
		nextID:    100,
		idStep:    1,
		files:     make(map[string][]byte),
		failPhoto: make(map[int]bool),
	}
	f.srv = httptest.NewServer(f)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeAPI) bot(chatID string) *Bot {
	return NewBot(Config{BotToken: testToken, ChatID: chatID, APIBase: f.srv.URL, Timeout: 5 * time.Second})
}

func (f *fakeAPI) sentPhotos() []sentPhoto {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentPhoto(nil), f.photos...)
}

func (f *fakeAPI) sentMessages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.messages...)
}

func (f *fakeAPI) queue(updates ...Update) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, updates...)
}

func (f *fakeAPI) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

func (f *fakeAPI) takeID() int64 {
	id := f.nextID
	f.nextID += f.idStep
	return id
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if p := strings.TrimPrefix(r.URL.Path, "/file/bot"+testToken+"/photos/"); p != r.URL.Path {
		data, ok := f.files[strings.TrimSuffix(p, ".jpg")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(data)
		return
	}

	switch strings.TrimPrefix(r.URL.Path, "/bot"+testToken+"/") {
	case "sendPhoto":
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			writeAPIError(w, 400, err.Error())
			return
		}
		file, _, err := r.FormFile("photo")
		if err != nil {
			writeAPIError(w, 400, "photo missing")
			return
		}
		data, _ := io.ReadAll(file)
		if f.failPhoto[len(f.photos)+1] {
			f.photos = append(f.photos, sentPhoto{})
			writeAPIError(w, 500, "upload failed")
			return
		}
		id := f.takeID()
		f.photos = append(f.photos, sentPhoto{ID: id, ChatID: r.FormValue("chat_id"), Caption: r.FormValue("caption"), Data: data})
		writeAPIResult(w, map[string]interface{}{"message_id": id})

	case "sendMessage":
		var payload struct {
			ChatID  string `json:"chat_id"`
			Text    string `json:"text"`
			ReplyTo int64  `json:"reply_to_message_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeAPIError(w, 400, err.Error())
			return
		}
		id := f.takeID()
		f.messages = append(f.messages, sentMessage{ID: id, ChatID: payload.ChatID, Text: payload.Text, ReplyTo: payload.ReplyTo})
		writeAPIResult(w, map[string]interface{}{"message_id": id})

	case "getUpdates":
		f.polls++
		offset, _ := strconv.ParseInt(r.URL.Query().Get("offset"), 10, 64)
		var out []Update
		for _, u := range f.updates {
			if u.UpdateID >= offset {
				out = append(out, u)
			}
		}
		writeAPIResult(w, out)

	case "getFile":
		var payload struct {
			FileID string `json:"file_id"`
		}
		json.NewDecoder(r.Body).Decode(&payload)
		if _, ok := f.files[payload.FileID]; !ok {
			writeAPIError(w, 400, "Bad Request: invalid file_id")
			return
		}
		writeAPIResult(w, File{FileID: payload.FileID, FilePath: "photos/" + payload.FileID + ".jpg"})

	default:
		writeAPIError(w, 404, "Not Found")
	}
}

func writeAPIResult(w http.ResponseWriter, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"ok": true, "result": result})
}

func writeAPIError(w http.ResponseWriter, code int, desc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]interface{}{"ok": false, "error_code": code, "description": desc})
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before timeout")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
