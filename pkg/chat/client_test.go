package chat_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/killallgit/chatstream/pkg/chat"
	"github.com/killallgit/chatstream/pkg/config"
	"github.com/killallgit/chatstream/pkg/packet"
	"github.com/killallgit/chatstream/pkg/stream"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type recorded struct {
	method string
	path   string
	auth   string
	body   map[string]any
}

var _ = Describe("Client", func() {
	var (
		client   *chat.Client
		server   *httptest.Server
		mu       sync.Mutex
		requests []recorded
		handler  http.HandlerFunc
	)

	lastRequest := func() recorded {
		mu.Lock()
		defer mu.Unlock()
		Expect(requests).ToNot(BeEmpty())
		return requests[len(requests)-1]
	}

	BeforeEach(func() {
		requests = nil
		handler = func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := recorded{method: r.Method, path: r.URL.Path, auth: r.Header.Get("Authorization")}
			_ = json.NewDecoder(r.Body).Decode(&rec.body)
			mu.Lock()
			requests = append(requests, rec)
			mu.Unlock()
			handler(w, r)
		}))
		client = chat.NewClient(server.URL)
	})

	AfterEach(func() {
		server.Close()
	})

	Describe("SendMessage", func() {
		It("should stream ids and packets from the response", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/x-ndjson")
				w.WriteHeader(http.StatusOK)
				fmt.Fprintln(w, `{"user_message_id":11,"reserved_assistant_message_id":12}`)
				fmt.Fprintln(w, `{"placement":{"turn_index":0},"obj":{"type":"message_start"}}`)
				fmt.Fprintln(w, `{"placement":{"turn_index":0},"obj":{"type":"message_delta","content":"Hi"}}`)
				fmt.Fprintln(w, `{"placement":{"turn_index":0},"obj":{"type":"stop"}}`)
			}

			q, err := client.SendMessage(context.Background(), chat.SendMessageRequest{
				ChatSessionID: "session-1",
				Message:       "Hello",
			})
			Expect(err).ToNot(HaveOccurred())

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			first, err := q.Pop(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(first.IDs).ToNot(BeNil())
			Expect(first.IDs.ReservedAssistantMessageID).To(Equal(12))

			var tags []packet.Tag
			for {
				ev, err := q.Pop(ctx)
				if err != nil {
					Expect(err).To(MatchError(stream.ErrClosed))
					break
				}
				tags = append(tags, ev.Packet.Type())
			}
			Expect(tags).To(Equal([]packet.Tag{packet.TagMessageStart, packet.TagMessageDelta, packet.TagStop}))

			req := lastRequest()
			Expect(req.method).To(Equal(http.MethodPost))
			Expect(req.path).To(Equal("/chat/send-chat-message"))
			Expect(req.auth).To(BeEmpty())
			Expect(req.body["chat_session_id"]).To(Equal("session-1"))
			Expect(req.body["message"]).To(Equal("Hello"))
			Expect(req.body).To(HaveKeyWithValue("parent_message_id", BeNil()))
			Expect(req.body["file_descriptors"]).To(BeEmpty())
		})

		It("should send the explicit parent and model override", func() {
			q, err := client.SendMessage(context.Background(), chat.SendMessageRequest{
				ChatSessionID:   "session-1",
				ParentMessageID: chat.IntPtr(4),
				Message:         "again",
				Regenerate:      true,
				LLMOverride:     &chat.LLMOverride{ModelVersion: "gpt-x"},
			})
			Expect(err).ToNot(HaveOccurred())
			Eventually(q.Closed).Should(BeTrue())

			req := lastRequest()
			Expect(req.body["parent_message_id"]).To(BeNumerically("==", 4))
			Expect(req.body["regenerate"]).To(Equal(true))
			Expect(req.body["llm_override"]).To(HaveKeyWithValue("model_version", "gpt-x"))
		})

		It("should send the bearer token when configured", func() {
			client.WithAPIKey("secret")
			q, err := client.SendMessage(context.Background(), chat.SendMessageRequest{ChatSessionID: "s", Message: "m"})
			Expect(err).ToNot(HaveOccurred())
			Eventually(q.Closed).Should(BeTrue())

			Expect(lastRequest().auth).To(Equal("Bearer secret"))
		})

		It("should return the backend detail on error status", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				fmt.Fprint(w, `{"detail":"persona not found"}`)
			}

			q, err := client.SendMessage(context.Background(), chat.SendMessageRequest{ChatSessionID: "s", Message: "m"})
			Expect(q).To(BeNil())
			Expect(err).To(MatchError(ContainSubstring("persona not found")))
			Expect(err.Error()).To(ContainSubstring("400"))
		})

		It("should return an error when the backend is unreachable", func() {
			server.Close()

			_, err := client.SendMessage(context.Background(), chat.SendMessageRequest{ChatSessionID: "s", Message: "m"})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("StopChatSession", func() {
		It("should post to the stop endpoint", func() {
			err := client.StopChatSession(context.Background(), "session-9")
			Expect(err).ToNot(HaveOccurred())

			req := lastRequest()
			Expect(req.method).To(Equal(http.MethodPost))
			Expect(req.path).To(Equal("/chat/stop-chat-session/session-9"))
		})

		It("should surface a failed stop", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				fmt.Fprint(w, `{"error":"no active stream"}`)
			}

			err := client.StopChatSession(context.Background(), "session-9")
			Expect(err).To(MatchError(ContainSubstring("no active stream")))
		})
	})

	Describe("RenameChatSession", func() {
		It("should return the generated name", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				fmt.Fprint(w, `{"new_name":"Go release notes"}`)
			}

			name, err := client.RenameChatSession(context.Background(), "session-3")
			Expect(err).ToNot(HaveOccurred())
			Expect(name).To(Equal("Go release notes"))

			req := lastRequest()
			Expect(req.method).To(Equal(http.MethodPut))
			Expect(req.path).To(Equal("/chat/rename-chat-session"))
			Expect(req.body).To(HaveKeyWithValue("chat_session_id", "session-3"))
			Expect(req.body).To(HaveKeyWithValue("name", BeNil()))
		})
	})

	Describe("NewClientFromConfig", func() {
		It("should reject a missing url", func() {
			_, err := chat.NewClientFromConfig(config.BackendConfig{})
			Expect(err).To(HaveOccurred())
		})

		It("should reject a relative url", func() {
			_, err := chat.NewClientFromConfig(config.BackendConfig{URL: "localhost"})
			Expect(err).To(HaveOccurred())
		})

		It("should build a working client", func() {
			c, err := chat.NewClientFromConfig(config.BackendConfig{URL: server.URL, APIKey: "k", Timeout: time.Second})
			Expect(err).ToNot(HaveOccurred())
			Expect(c.StopChatSession(context.Background(), "x")).To(Succeed())
			Expect(lastRequest().auth).To(Equal("Bearer k"))
		})
	})
})
