package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/wudi/protogate/internal/crypto"
	"github.com/wudi/protogate/internal/dto"
	"github.com/wudi/protogate/internal/envelope"
	"github.com/wudi/protogate/internal/eventbus"
	"github.com/wudi/protogate/internal/forwardermanager"
	"github.com/wudi/protogate/internal/monitoring"
	"github.com/wudi/protogate/internal/routing"
)

func newTestPipeline(t *testing.T, cryptoSvc *crypto.Service) (*Pipeline, *eventbus.Bus, *monitoring.Service) {
	t.Helper()
	bus := eventbus.New(context.Background())
	t.Cleanup(func() { bus.Stop(context.Background()) })

	mon := monitoring.New(nil)
	fm := forwardermanager.New(cryptoSvc, mon)
	eng := routing.New(nil)

	p := New(Deps{Bus: bus, Routing: eng, Forwarders: fm, Monitoring: mon, Crypto: cryptoSvc})
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { p.Stop(context.Background()) })
	return p, bus, mon
}

func waitForReceived(t *testing.T, mon *monitoring.Service, want int64) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if mon.GetRuntimeMetrics().TotalReceived >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("routing decision was not recorded within timeout")
}

func TestHandleRaw_DecodesJSONAndRoutesToTarget(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		gotBody = buf
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p, bus, mon := newTestPipeline(t, nil)
	p.RegisterTargetSystem(dto.TargetSystem{ID: "t1", Protocol: "HTTP", Endpoint: srv.URL, IsActive: true})
	p.UpdateRoutingRules([]dto.RoutingRule{
		{ID: "r1", IsActive: true, IsPublished: true, Targets: []string{"t1"}},
	})

	env := &envelope.Envelope{
		MessageID:      "m1",
		SourceProtocol: envelope.ProtocolHTTP,
		DataSourceID:   "ds1",
		RawData:        []byte(`{"temperature": 21.5}`),
	}
	bus.Publish(eventbus.TopicRawFrameReceived, env)

	waitForReceived(t, mon, 1)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && len(gotBody) == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if len(gotBody) == 0 {
		t.Fatal("target never received a forwarded body")
	}
}

func TestHandleRaw_InvalidJSONStillRecordsRoutingDecision(t *testing.T) {
	p, bus, mon := newTestPipeline(t, nil)
	p.UpdateRoutingRules(nil)

	bus.Publish(eventbus.TopicRawFrameReceived, &envelope.Envelope{
		MessageID: "m2",
		RawData:   []byte(`not json`),
	})

	waitForReceived(t, mon, 1)
}

func TestHandleParsed_RoutesAlreadyParsedEnvelope(t *testing.T) {
	var called bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p, bus, mon := newTestPipeline(t, nil)
	p.RegisterTargetSystem(dto.TargetSystem{ID: "t2", Protocol: "HTTP", Endpoint: srv.URL, IsActive: true})
	p.UpdateRoutingRules([]dto.RoutingRule{
		{ID: "r2", IsActive: true, IsPublished: true, Targets: []string{"t2"}},
	})

	v := envelope.Map(map[string]envelope.Value{"humidity": envelope.Float(55)})
	env := (&envelope.Envelope{MessageID: "m3", DataSourceID: "ds2"}).WithParsed(v)
	bus.Publish(eventbus.TopicMessageParsed, &env)

	waitForReceived(t, mon, 1)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && !called {
		time.Sleep(5 * time.Millisecond)
	}
	if !called {
		t.Fatal("target never received the parsed envelope")
	}
}

func TestDecryptIfNeeded_UnwrapsEncryptedPayload(t *testing.T) {
	cryptoSvc, err := crypto.New("0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatal(err)
	}
	p, _, _ := newTestPipeline(t, cryptoSvc)

	wrapped, err := cryptoSvc.WrapPayload(map[string]interface{}{"temperature": 21.5})
	if err != nil {
		t.Fatal(err)
	}
	msg := wrapped["encrypted_payload"].(*crypto.EncryptedMessage)
	v := envelope.FromInterface(map[string]interface{}{
		"ciphertext":    msg.Ciphertext,
		"nonce":         msg.Nonce,
		"encrypted_key": msg.EncryptedKey,
		"key_nonce":     msg.KeyNonce,
		"algorithm":     msg.Algorithm,
	})
	wrappedValue := envelope.Map(map[string]envelope.Value{"encrypted_payload": v})
	env := (&envelope.Envelope{MessageID: "m4"}).WithParsed(wrappedValue)

	out := p.decryptIfNeeded(env)
	field, ok := out.Field("parsed_data.temperature")
	if !ok {
		t.Fatal("expected decrypted temperature field")
	}
	if f, _ := field.Float(); f != 21.5 {
		t.Errorf("temperature = %v, want 21.5", f)
	}
}

func TestProcessMessage_UnregisteredSchemaFails(t *testing.T) {
	p, _, _ := newTestPipeline(t, nil)
	_, _, err := p.ProcessMessage(context.Background(), []byte("x"), "missing", SourceInfo{})
	if err == nil {
		t.Fatal("expected an error for an unregistered frame schema")
	}
}

func TestProcessMessage_ParsesRoutesAndForwards(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		gotBody = buf
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p, _, _ := newTestPipeline(t, nil)
	p.RegisterFrameSchema(dto.FrameSchema{
		ID:        "s1",
		FrameType: dto.FrameFixed,
		Fields: []dto.FieldDef{
			{Name: "value", Offset: 0, Length: 1, DataType: dto.TypeUint8},
		},
	})
	p.RegisterTargetSystem(dto.TargetSystem{ID: "t3", Protocol: "HTTP", Endpoint: srv.URL, IsActive: true})
	p.UpdateRoutingRules([]dto.RoutingRule{
		{ID: "r3", IsActive: true, IsPublished: true, Targets: []string{"t3"}},
	})

	decision, results, err := p.ProcessMessage(context.Background(), []byte{42}, "s1", SourceInfo{Protocol: "tcp", DataSourceID: "ds3"})
	if err != nil {
		t.Fatal(err)
	}
	if len(decision.TargetIDs) != 1 {
		t.Fatalf("decision.TargetIDs = %v, want [t3]", decision.TargetIDs)
	}
	if len(results) != 1 || !results[0].Success {
		t.Fatalf("results = %+v, want one success", results)
	}
	if len(gotBody) == 0 {
		t.Fatal("target never received the forwarded body")
	}
}
