package main

import (
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/cashumint/core/crypto"
)

func main() {
	seed, err := hdkeychain.GenerateSeed(hdkeychain.RecommendedSeedLen)
	if err != nil {
		fmt.Println(err)
		return
	}
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		fmt.Println(err)
		return
	}
	keyset, err := crypto.GenerateKeyset(master, 0, 0)
	if err != nil {
		fmt.Println(err)
		return
	}

	fmt.Printf("keyset id: %v\n", keyset.Id)

	pubkeyset := keyset.PublicKeys()
	jsonKeyset, err := json.Marshal(pubkeyset)
	if err != nil {
		fmt.Println(err)
	}
	fmt.Printf("%s\n", jsonKeyset)
}
