package main

import (
	"log"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"

	"github.com/JaimeStill/herbtrace/chaincode/trace"
)

func main() {
	cc, err := contractapi.NewChaincode(new(trace.Contract))
	if err != nil {
		log.Fatalf("create trace chaincode: %v", err)
	}

	cc.Info.Title = "herbtrace"
	cc.Info.Version = "1.0.0"

	if err := cc.Start(); err != nil {
		log.Fatalf("start trace chaincode: %v", err)
	}
}
