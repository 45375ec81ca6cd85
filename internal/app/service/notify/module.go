package notify

import "go.uber.org/fx"

var Module = fx.Options(
	fx.Provide(
		fx.Annotate(NewSMTPSink, fx.As(new(Sink))),
		NewDispatcher,
		NewStatusForwarder,
	),
)
