package matchmaking

import (
	"google.golang.org/grpc"

	"github.com/oggyb/muzz-matchmaker/internal/app"
	pb "github.com/oggyb/muzz-matchmaker/internal/proto/matchmaking"
)

// Registrar ties the Matchmaking service into the gRPC server
type Registrar struct {
	appCtx *app.AppContext
}

// NewRegistrar creates a new Registrar for the Matchmaking service
func NewRegistrar(appCtx *app.AppContext) *Registrar {
	return &Registrar{appCtx: appCtx}
}

// Register attaches the Matchmaking service implementation to the gRPC server
func (r *Registrar) Register(s *grpc.Server) {
	pb.RegisterMatchmakingServiceServer(s, NewMatchmakingService(r.appCtx))
}
