package handlers

import (
	"net/http"

	"ledger-service/internal/logger"

	gorillahandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

func SetupRoutes(accountHandler *AccountHandler, transactionHandler *TransactionHandler, healthHandler *HealthHandler, log *logger.Logger, allowedOrigins []string) http.Handler {
	router := newRouter(log)

	router.Handle("/health", healthHandler).Methods("GET")

	v1 := router.PathPrefix("/v1").Subrouter()
	v1.Use(RequireJSON)

	v1.HandleFunc("/accounts", accountHandler.CreateAccount).Methods("POST")
	v1.HandleFunc("/accounts/{id}", accountHandler.GetAccount).Methods("GET")
	v1.HandleFunc("/accounts/{id}/transactions", accountHandler.ListTransactions).Methods("GET")

	v1.HandleFunc("/transactions", transactionHandler.CreatePending).Methods("POST")
	v1.HandleFunc("/transactions/immediate", transactionHandler.CreateImmediate).Methods("POST")
	v1.HandleFunc("/transactions/{id}", transactionHandler.GetTransaction).Methods("GET")
	v1.HandleFunc("/transactions/{id}", transactionHandler.Execute).Methods("PUT")
	v1.HandleFunc("/transactions/{id}", transactionHandler.Reverse).Methods("DELETE")

	// preflight requests match no route, so CORS wraps the router itself
	return cors(allowedOrigins)(router)
}

// newRouter returns a router with the middleware chain every route shares.
// AccessLog sits outside Recovery so a recovered panic is logged with its 500.
func newRouter(log *logger.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(RequestID, AccessLog(log), Recovery(log))

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sendJSONError(w, "ROUTE_NOT_FOUND", "route not found", http.StatusNotFound)
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sendJSONError(w, "METHOD_NOT_ALLOWED", "method not allowed", http.StatusMethodNotAllowed)
	})

	return router
}

func cors(allowedOrigins []string) func(http.Handler) http.Handler {
	return gorillahandlers.CORS(
		gorillahandlers.AllowedOrigins(allowedOrigins),
		gorillahandlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		gorillahandlers.AllowedHeaders([]string{"Content-Type", HeaderIdempotencyKey, HeaderRequestID}),
		gorillahandlers.ExposedHeaders([]string{HeaderRequestID, HeaderIdempotencyHit, "Retry-After"}),
	)
}
