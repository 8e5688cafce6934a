// mail-sink is a local stand-in for the mail gateway. It verifies the
// HMAC signature on incoming send requests, records them, and can be
// told to fail or bounce specific recipients to exercise the delivery
// failure paths end to end.
package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

type mail struct {
	Timestamp string `json:"timestamp"`
	Signature string `json:"signature"`
	SigOK     bool   `json:"sig_ok"`
	To        string `json:"to"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}

type stats struct {
	Count      int64  `json:"count"`
	BadSigs    int64  `json:"bad_signatures"`
	LastMails  []mail `json:"last_mails"`
	Since      string `json:"since"`
	FailList   string `json:"fail_list,omitempty"`
	BounceList string `json:"bounce_list,omitempty"`
}

var (
	mu        sync.Mutex
	count     int64
	badSigs   int64
	lastMails []mail
	since     time.Time
	maxStored = 50

	secret string

	// comma-separated recipient addresses; requests to a fail address
	// get a 500, to a bounce address a 422
	failList   string
	bounceList string
)

func main() {
	since = time.Now().UTC()
	secret = os.Getenv("MAIL_SECRET")
	failList = os.Getenv("FAIL_RECIPIENTS")
	bounceList = os.Getenv("BOUNCE_RECIPIENTS")

	addr := ":8081"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}

	if secret == "" {
		log.Println("mail-sink: MAIL_SECRET not set; signature verification disabled")
	}

	http.HandleFunc("/send", sendHandler)
	http.HandleFunc("/stats", statsHandler)
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	http.HandleFunc("/reset", func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		count = 0
		badSigs = 0
		lastMails = nil
		since = time.Now().UTC()
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "reset")
	})

	log.Printf("mail-sink listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, nil))
}

func verifySignature(body []byte, signature string) bool {
	if secret == "" {
		return true
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func listed(list, addr string) bool {
	for _, entry := range strings.Split(list, ",") {
		if entry != "" && strings.EqualFold(strings.TrimSpace(entry), addr) {
			return true
		}
	}
	return false
}

func sendHandler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	sig := r.Header.Get("X-FIMail-Signature")
	sigOK := verifySignature(body, sig)

	var payload struct {
		To      string `json:"to"`
		Subject string `json:"subject"`
		Body    string `json:"body"`
	}
	json.Unmarshal(body, &payload)

	m := mail{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Signature: sig,
		SigOK:     sigOK,
		To:        payload.To,
		Subject:   payload.Subject,
		Body:      payload.Body,
	}

	mu.Lock()
	count++
	if !sigOK {
		badSigs++
	}
	lastMails = append(lastMails, m)
	if len(lastMails) > maxStored {
		lastMails = lastMails[len(lastMails)-maxStored:]
	}
	current := count
	mu.Unlock()

	if !sigOK {
		log.Printf("mail #%d to %s: BAD SIGNATURE", current, payload.To)
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprintln(w, `{"error":"invalid signature"}`)
		return
	}

	switch {
	case listed(failList, payload.To):
		log.Printf("mail #%d to %s: simulated gateway failure", current, payload.To)
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintln(w, `{"error":"simulated failure"}`)
	case listed(bounceList, payload.To):
		log.Printf("mail #%d to %s: simulated hard bounce", current, payload.To)
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprintln(w, `{"error":"recipient rejected"}`)
	default:
		log.Printf("mail #%d to %s: %q", current, payload.To, payload.Subject)
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"accepted":%d}`, current)
	}
}

func statsHandler(w http.ResponseWriter, _ *http.Request) {
	mu.Lock()
	s := stats{
		Count:      count,
		BadSigs:    badSigs,
		LastMails:  lastMails,
		Since:      since.Format(time.RFC3339),
		FailList:   failList,
		BounceList: bounceList,
	}
	mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s)
}
