package main

import (
	"flag"
	"fmt"
	"log"

	"bitbucket.org/mmdatafocus/sellersync_backend/utils"
)

// Issues a bearer token for operators and store-scoped clients. Reads
// API_SECRET and TOKEN_HOUR_LIFESPAN from the environment like the service.
func main() {
	userFlag := flag.Int("user", 0, "user id to embed in the token")
	roleFlag := flag.String("role", "operator", "role claim")
	storeFlag := flag.String("store", "", "store id to scope the token to (optional)")
	flag.Parse()

	if *userFlag == 0 {
		log.Fatal("missing -user")
	}

	token, err := utils.JwtGenerate(*userFlag, *roleFlag, *storeFlag)
	if err != nil {
		log.Fatalf("generate token: %v", err)
	}
	fmt.Println(token)
}
