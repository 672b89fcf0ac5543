// Command devtoken mints an access token signed with JWT_SECRET for calling
// the API locally, in the shape the auth provider issues.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/lastmin-booking/internal/config"
	"github.com/iliyamo/lastmin-booking/internal/router"
	"github.com/iliyamo/lastmin-booking/internal/utils"
)

type settings struct {
	JWTSecret string `env:"JWT_SECRET,required,notEmpty"`
}

func main() {
	sub := flag.String("sub", "", "user id (required)")
	email := flag.String("email", "", "email claim")
	role := flag.String("role", router.AuthenticatedRole, "role claim")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	if *sub == "" {
		flag.Usage()
		os.Exit(2)
	}
	config.LoadDotEnv()
	var s settings
	if err := env.Parse(&s); err != nil {
		logrus.WithError(err).Fatal("load settings")
	}
	tok, err := utils.NewAccessToken(s.JWTSecret, *sub, *email, *role, *ttl)
	if err != nil {
		logrus.WithError(err).Fatal("sign token")
	}
	fmt.Println(tok.Token)
}
