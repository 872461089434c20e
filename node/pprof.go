package node

import (
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof"

	"github.com/spf13/viper"
)

func (n *Node) startPProfIfEnabled() {
	if !viper.GetBool(ConfigKeyPProfEnable) {
		return
	}
	port := viper.GetInt(ConfigKeyPProfPort)
	if port == 0 {
		port = 8080
	}
	url := fmt.Sprintf("localhost:%d", port)
	n.Log().Infof("starting pprof on '%s'", url)

	n.pprofServer = &http.Server{Addr: url, Handler: http.DefaultServeMux}
	go func() {
		if err := n.pprofServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			n.Log().Errorf("pprof: %v", err)
		}
	}()
}
