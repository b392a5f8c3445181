package swagger

import (
	"net/http"

	httpSwagger "github.com/swaggo/http-swagger"
)

func Handler() http.Handler {
	// Serve the billing API spec from api/openapi.yml
	return httpSwagger.Handler(
		httpSwagger.URL("/openapi.yml"),
	)
}
