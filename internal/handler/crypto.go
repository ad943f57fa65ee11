package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/sportshop-system/internal/crypt"
)

// GenerateKeys создаёт пару ключей RSA для гибридного шифрования.
func (h *Handler) GenerateKeys(w http.ResponseWriter, r *http.Request) {
	pair, err := crypt.GenerateKeyPair()
	if err != nil {
		h.logger.Error("generate key pair", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusCreated, pair)
}

type encryptRequest struct {
	PublicKey string `json:"public_key"`
}

// EncryptOrder шифрует заказ с позициями и метаданными под публичный ключ получателя.
func (h *Handler) EncryptOrder(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req encryptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	env, err := h.service.EncryptOrderPayload(r.Context(), id, req.PublicKey)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, env)
}

// EncryptStats шифрует статистику заказов под публичный ключ получателя.
func (h *Handler) EncryptStats(w http.ResponseWriter, r *http.Request) {
	var req encryptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	env, err := h.service.EncryptStats(r.Context(), req.PublicKey)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, env)
}

type decryptRequest struct {
	Ciphertext   string `json:"ciphertext"`
	EncryptedKey string `json:"encrypted_key"`
	Nonce        string `json:"nonce"`
	PrivateKey   string `json:"private_key"`
}

// Decrypt расшифровывает гибридный конверт приватным ключом.
func (h *Handler) Decrypt(w http.ResponseWriter, r *http.Request) {
	var req decryptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	payload, err := h.service.DecryptPayload(&crypt.Envelope{
		Ciphertext:   req.Ciphertext,
		EncryptedKey: req.EncryptedKey,
		Nonce:        req.Nonce,
	}, req.PrivateKey)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]json.RawMessage{"payload": payload})
}

// Verify проверяет целостность конверта снятием тега аутентификации.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	var req decryptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	valid := crypt.VerifyEnvelope(&crypt.Envelope{
		Ciphertext:   req.Ciphertext,
		EncryptedKey: req.EncryptedKey,
		Nonce:        req.Nonce,
	}, req.PrivateKey)

	h.writeJSON(w, http.StatusOK, map[string]bool{"valid": valid})
}

type hashRequest struct {
	Value string `json:"value"`
}

// Hash возвращает SHA-256 от переданной строки.
func (h *Handler) Hash(w http.ResponseWriter, r *http.Request) {
	var req hashRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"hash": crypt.Hash(req.Value)})
}

type randomRequest struct {
	Length int `json:"length"`
}

// Random возвращает криптостойкую случайную строку указанной длины в байтах.
func (h *Handler) Random(w http.ResponseWriter, r *http.Request) {
	var req randomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	value, err := crypt.RandomString(req.Length)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"value": value})
}
