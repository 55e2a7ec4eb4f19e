// Package appmock starts mock application hosts for tests and caches them by
// configuration, so tests asking for the same fixture share one running
// host.
//
// An instance is an app (one app process plus an agent) or a cluster (a set
// of workers plus an agent). Both come from the same host binary, found in
// PATH as DefaultHostBinary unless WithHostBinary says otherwise.
//
// # Basic Usage
//
//	import "github.com/giantswarm/appmock"
//
//	func TestUsers(t *testing.T) {
//	    app, err := appmock.App(appmock.Config{BaseDir: "apps/users"})
//	    if err != nil {
//	        t.Fatal(err)
//	    }
//	    if err := app.Ready(ctx); err != nil {
//	        t.Fatal(err)
//	    }
//
//	    resp, err := app.Request(ctx, http.MethodGet, "/users", nil)
//	    // ...
//	}
//
// Relative base directories are resolved against the fixtures directory
// (DefaultFixturesDir under the working directory). Requests with the same
// resolved configuration return the same instance until it is closed or has
// failed; set Config.DisableCache to always get a fresh one.
//
// # Failures
//
// Failures are delivered twice: Ready rejects with the host's own message,
// and every handler registered through OnError receives it, including
// handlers registered after the fact. A failed instance stays in its failed
// state until Close; the next request for the same configuration gets a new
// instance.
//
// # Cleanup
//
// Close stops the host. On success the logs and run directories under the
// base directory are removed unless Config.KeepArtifacts is set. CloseAll
// closes every instance the manager created, which suits TestMain:
//
//	func TestMain(m *testing.M) {
//	    code := m.Run()
//	    _ = appmock.CloseAll(context.Background())
//	    os.Exit(code)
//	}
package appmock
