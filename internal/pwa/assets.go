package pwa

import (
	"encoding/json"
	"net/http"
)

// Manifest describes the installed application.
type Manifest struct {
	Name            string `json:"name"`
	ShortName       string `json:"short_name"`
	Description     string `json:"description"`
	StartURL        string `json:"start_url"`
	Scope           string `json:"scope"`
	Display         string `json:"display"`
	Orientation     string `json:"orientation"`
	BackgroundColor string `json:"background_color"`
	ThemeColor      string `json:"theme_color"`
	Lang            string `json:"lang"`
	Icons           []Icon `json:"icons"`
}

type Icon struct {
	Src     string `json:"src"`
	Sizes   string `json:"sizes"`
	Type    string `json:"type"`
	Purpose string `json:"purpose,omitempty"`
}

// DefaultManifest returns the manifest served at /manifest.webmanifest.
func DefaultManifest() Manifest {
	return Manifest{
		Name:            "Mercado - Lista e Orçamento",
		ShortName:       "Mercado",
		Description:     "Lista de compras com controle de orçamento e histórico mensal.",
		StartURL:        "/",
		Scope:           "/",
		Display:         "standalone",
		Orientation:     "portrait",
		BackgroundColor: "#0f172a",
		ThemeColor:      "#4f46e5",
		Lang:            "pt-BR",
		Icons: []Icon{
			{Src: "/icons/icon-192.png", Sizes: "192x192", Type: "image/png"},
			{Src: "/icons/icon-512.png", Sizes: "512x512", Type: "image/png", Purpose: "any maskable"},
		},
	}
}

// ManifestHandler serves m as a web app manifest.
func ManifestHandler(m Manifest) http.HandlerFunc {
	body, err := json.Marshal(m)
	if err != nil {
		panic("pwa: encode manifest: " + err.Error())
	}
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/manifest+json")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Write(body)
	}
}

// ServiceWorkerHandler serves the service worker script.
func ServiceWorkerHandler() http.HandlerFunc {
	script, err := staticFS.ReadFile("static/sw.js")
	if err != nil {
		panic("pwa: read service worker: " + err.Error())
	}
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Service-Worker-Allowed", "/")
		w.Write(script)
	}
}

// OfflineHandler serves the fallback shown for failed fetches.
func OfflineHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(OfflineMessage))
}
