// Package uaclient provides the client-side orchestration of an OPC UA conversation on top of a
// remote.Service: connecting with bounded retry, sessions, browsing, reading, subscriptions and
// monitored items streaming change notifications.
//
// Key Features:
//   - Connection Management: Connects with exponential backoff and reports every retry to observers.
//   - State Management: Tracks the connection state and the subscription lifecycle.
//   - Typed Errors: Every failure is a typed error carrying a Reason, matchable with errors.Is.
//   - Ordered Delivery: Change notifications of one monitored item are delivered in order through a
//     bounded queue with a configurable overflow policy.
//   - Injectable Clock: Backoff waits and lifetime watchdogs run on a clock that tests can replace.
//
// Connection Establishment:
//   - Create a Config with `NewConfig()` and the desired options.
//   - Create a Connector for a remote.Service with `NewConnector`, then call `Connect`.
//
// Sessions and Requests:
//   - Create a session with `SessionManager.CreateSession`.
//   - Browse with `Browser.Browse` and read attributes with `Reader.Read`.
//
// Subscriptions:
//   - Create a subscription with `SubscriptionManager.Create`; register lifecycle handlers with the
//     `WithOnStarted`, `WithOnKeepAlive` and `WithOnTerminated` options so no event is missed.
//   - Attach monitored items with `Registry.Monitor` and consume their changes with `Next` or `OnChanged`.
//
// Teardown:
//   - Terminate subscriptions, close sessions, then disconnect. Each step is idempotent, and each
//     owner releases what it owns if the caller skips a step.
//
// Usage Example:
//
//	cfg, _ := uaclient.NewConfig(uaclient.WithConnectStrategy(uaclient.DefaultConnectStrategy()))
//	connector, err := uaclient.NewConnector(svc, cfg)
//	// ... handle error ...
//	defer connector.Close()
//
//	conn, err := connector.Connect(ctx, ua.MustParseEndpoint("opc.tcp://localhost:4840"))
//	// ... handle error ...
//	defer conn.Disconnect(ctx)
//
//	sessions := uaclient.NewSessionManager(cfg)
//	sess, err := sessions.CreateSession(ctx, conn)
//	// ... handle error ...
//	defer sessions.Close(ctx, sess)
//
//	sub, err := uaclient.NewSubscriptionManager(cfg).Create(ctx, sess, ua.DefaultSubscriptionParameters())
//	// ... handle error ...
//	defer sub.Terminate(ctx)
//
//	item, err := uaclient.NewRegistry(cfg).Monitor(ctx, sub, ua.ValueOf(nodeID), ua.DefaultMonitoringParameters())
//	// ... handle error ...
//	item.OnChanged(func(n uaclient.ChangeNotification) {
//	    fmt.Println(n.NodeID, n.Value.Value)
//	})
package uaclient
