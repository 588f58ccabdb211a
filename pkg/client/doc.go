// Package client is the EdgeSentinel Go SDK.
//
// # Scoring a detection
//
// A sentinel exposes its threat engine over HTTP:
//
//	c, err := client.New("http://localhost:3001")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	verdict, err := c.AnalyzeThreat(ctx, client.AnalyzeRequest{
//	    Category:   "sql-injection",
//	    Confidence: 0.9,
//	    Evidence:   []string{"SQL injection: quoted boolean tautology"},
//	})
//	fmt.Println(verdict.Action) // block
//
// Up to 100 detections can be scored in one round trip with PredictBatch.
//
// # Inspecting a request
//
// Inspect runs detection, scoring and the decision on a described request
// without forwarding it anywhere:
//
//	res, _ := c.Inspect(ctx, client.InspectRequest{
//	    Method: "GET",
//	    Path:   "/api/users",
//	    Query:  "id=1' OR '1'='1",
//	})
//
// # Synthetic attacks
//
// Pointed at a strike service, the same Client launches payload sequences:
//
//	s := client.MustNew("http://localhost:8888")
//	report, _ := s.LaunchAttack(ctx, "xss", "backend", 3)
//	fmt.Println(report.AttacksSent)
//
// Every non-2xx response is returned as an *APIError carrying the status
// code and the server's error message.
package client
