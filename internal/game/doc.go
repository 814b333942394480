// Package game runs the connection game on a sender/receiver controller pair.
//
// A Session assigns each of the ConnQty logical connections a random slot on
// both boards, then polls the receiver until every connection is made or the
// timeout passes:
//
//	s, err := game.NewSession(game.DefaultConfig(),
//	    game.WithControllers(factory),
//	    game.WithLogger(logger))
//	if err := s.Start(ctx); err != nil {
//	    return err
//	}
//	if err := s.Run(ctx, publisher); err != nil {
//	    return err
//	}
//	outcome, err := s.Wait(ctx)
//
// While it runs, the session publishes health_check events every half second,
// a status event on every tick, and a final win or timeout event. Both end
// states send the restart command to the controllers. Stop ends the game
// silently.
//
// # Deterministic Testing
//
// Time comes from an injected quartz.Clock and randomness from an injected
// *rand.Rand, so tests can drive a whole game in virtual time:
//
//	clock := quartz.NewMock(t)
//	s, _ := game.NewSession(cfg, game.WithClock(clock), game.WithRand(randutil.New(42)))
package game
