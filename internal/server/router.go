package server

import "net/http"

func newRouter(h *handlers, metrics http.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", h.root)
	mux.HandleFunc("GET /healthz", h.healthz)

	mux.HandleFunc("POST /restaurants", limitBody(maxBodyBytes, h.create))
	mux.HandleFunc("POST /restaurants/rating", limitBody(maxBodyBytes, h.rate))
	mux.HandleFunc("GET /restaurants/{name}", h.get)
	mux.HandleFunc("DELETE /restaurants/{name}", h.delete)

	mux.HandleFunc("GET /restaurants/cuisine/{cuisine}", h.listByCuisine)
	mux.HandleFunc("GET /restaurants/region/{region}", h.listByRegion)
	mux.HandleFunc("GET /restaurants/region/{region}/cuisine/{cuisine}", h.listByRegionAndCuisine)

	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}

	return mux
}

func limitBody(n int64, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, n)
		h(w, r)
	}
}
